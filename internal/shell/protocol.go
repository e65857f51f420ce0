// File: internal/shell/protocol.go
//
// The sentinel-marker wrapping implemented here is a private text protocol
// over the PTY byte stream. It is not a stable external interface.
package shell

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
)

// protocol holds the per-invocation sentinel markers. Every exec gets fresh
// UUID-derived markers so stale output from a previous, interrupted command
// can never satisfy the current parse.
type protocol struct {
	begin  string
	end    string
	errEnd string
}

func newProtocol(id string) protocol {
	return protocol{
		begin:  "MRN-BEGIN-" + id,
		end:    "MRN-END-" + id,
		errEnd: "MRN-ERREND-" + id,
	}
}

// wrap builds the shell text for one command invocation:
//
//	BEGIN marker
//	command output (stderr diverted to a temp file)
//	END marker : exit status : working directory
//	captured stderr
//	ERREND marker
//
// Marker literals are split in the generated text ('MRN-BEG''IN-...') so the
// contiguous marker can only ever appear in command *output*, never in any
// echo of the command line itself.
func (p protocol) wrap(command string) string {
	var b strings.Builder
	b.WriteString("__mef=$(mktemp); ")
	b.WriteString(fmt.Sprintf("printf '\\n%%s\\n' %s; ", splitQuote(p.begin)))
	b.WriteString("{ ")
	b.WriteString(command)
	// The newline before } matters: it terminates the command even when it
	// ends in a comment or an unfinished line.
	b.WriteString("\n} 2>\"$__mef\"; __mrc=$?; ")
	b.WriteString(fmt.Sprintf("printf '\\n%%s:%%s:%%s\\n' %s \"$__mrc\" \"$PWD\"; ", splitQuote(p.end)))
	b.WriteString("cat \"$__mef\"; rm -f \"$__mef\"; ")
	b.WriteString(fmt.Sprintf("printf '\\n%%s\\n' %s\n", splitQuote(p.errEnd)))
	return b.String()
}

// splitQuote renders a marker as two adjacent single-quoted halves.
func splitQuote(marker string) string {
	half := len(marker) / 2
	return "'" + marker[:half] + "''" + marker[half:] + "'"
}

// parse extracts stdout, stderr, exit code and cwd from the raw PTY capture.
// A parse failure means the markers were lost and the session can no longer
// attribute output to commands.
func (p protocol) parse(raw string) (schemas.CommandResult, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	beginIdx := strings.Index(raw, p.begin)
	if beginIdx < 0 {
		return schemas.CommandResult{}, fmt.Errorf("begin marker not found")
	}
	afterBegin := raw[beginIdx+len(p.begin):]
	afterBegin = strings.TrimPrefix(afterBegin, "\n")

	endIdx := strings.Index(afterBegin, p.end+":")
	if endIdx < 0 {
		return schemas.CommandResult{Stdout: strings.TrimSuffix(afterBegin, "\n")},
			fmt.Errorf("end marker not found")
	}

	stdout := afterBegin[:endIdx]
	stdout = strings.TrimSuffix(stdout, "\n")

	rest := afterBegin[endIdx+len(p.end)+1:]
	statusLine, rest, found := strings.Cut(rest, "\n")
	if !found {
		return schemas.CommandResult{Stdout: stdout}, fmt.Errorf("status line truncated")
	}

	// statusLine is "<exit>:<pwd>"; pwd may contain further colons.
	code, cwd, found := strings.Cut(statusLine, ":")
	if !found {
		return schemas.CommandResult{Stdout: stdout}, fmt.Errorf("malformed status line %q", statusLine)
	}
	exitCode, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return schemas.CommandResult{Stdout: stdout}, fmt.Errorf("malformed exit status %q", code)
	}

	stderr := rest
	if errIdx := strings.Index(rest, p.errEnd); errIdx >= 0 {
		stderr = rest[:errIdx]
	}
	stderr = strings.Trim(stderr, "\n")

	return schemas.CommandResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Cwd:      strings.TrimSpace(cwd),
	}, nil
}
