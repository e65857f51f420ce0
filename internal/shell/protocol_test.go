package shell

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNeverEmitsContiguousMarkers(t *testing.T) {
	p := newProtocol("abc-123")
	wrapped := p.wrap("echo hello")

	// The contiguous marker text must only ever appear in command output,
	// never in the wrapper the interpreter may echo back.
	assert.NotContains(t, wrapped, p.begin)
	assert.NotContains(t, wrapped, p.end)
	assert.NotContains(t, wrapped, p.errEnd)
	assert.Contains(t, wrapped, "echo hello")
	assert.Contains(t, wrapped, "mktemp")
}

func TestParseExtractsAllFields(t *testing.T) {
	p := newProtocol("abc-123")
	raw := "stale prompt noise\n" +
		p.begin + "\n" +
		"line one\nline two\n" +
		p.end + ":0:/home/user\n" +
		"warning: deprecated\n" +
		p.errEnd + "\n"

	res, err := p.parse(raw)

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "line one\nline two", res.Stdout)
	assert.Equal(t, "warning: deprecated", res.Stderr)
	assert.Equal(t, "/home/user", res.Cwd)
}

func TestParseNonZeroExit(t *testing.T) {
	p := newProtocol("x")
	raw := p.begin + "\n" + p.end + ":127:/tmp\n" + "bash: nope: command not found\n" + p.errEnd + "\n"

	res, err := p.parse(raw)

	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)
	assert.Empty(t, res.Stdout)
	assert.Contains(t, res.Stderr, "command not found")
}

func TestParseCwdWithColons(t *testing.T) {
	p := newProtocol("x")
	raw := p.begin + "\n" + p.end + ":0:/tmp/a:b:c\n" + p.errEnd + "\n"

	res, err := p.parse(raw)

	require.NoError(t, err)
	assert.Equal(t, "/tmp/a:b:c", res.Cwd)
}

func TestParseNormalizesCarriageReturns(t *testing.T) {
	p := newProtocol("x")
	raw := p.begin + "\r\n" + "out\r\n" + p.end + ":0:/tmp\r\n" + p.errEnd + "\r\n"

	res, err := p.parse(raw)

	require.NoError(t, err)
	assert.Equal(t, "out", res.Stdout)
	assert.Equal(t, "/tmp", res.Cwd)
}

func TestParseMissingBeginMarkerFails(t *testing.T) {
	p := newProtocol("x")
	_, err := p.parse("random output with no markers at all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin marker")
}

func TestParseMissingEndMarkerFails(t *testing.T) {
	p := newProtocol("x")
	_, err := p.parse(p.begin + "\npartial output only")
	require.Error(t, err)
}

func TestParseIgnoresStaleMarkersFromOtherInvocations(t *testing.T) {
	stale := newProtocol("old-id")
	current := newProtocol("new-id")
	raw := stale.begin + "\nleftover\n" + stale.end + ":1:/old\n" + stale.errEnd + "\n" +
		current.begin + "\nfresh\n" + current.end + ":0:/new\n" + current.errEnd + "\n"

	res, err := current.parse(raw)

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "fresh", res.Stdout)
	assert.Equal(t, "/new", res.Cwd)
}

func TestSplitQuoteReassembles(t *testing.T) {
	marker := "MRN-BEGIN-abcdef"
	quoted := splitQuote(marker)
	// Two adjacent quoted halves concatenate back to the marker in shell.
	assert.Equal(t, marker, strings.ReplaceAll(quoted, "'", ""))
	assert.NotContains(t, quoted, marker)
}
