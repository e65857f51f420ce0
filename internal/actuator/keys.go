// File: internal/actuator/keys.go
package actuator

import (
	"sort"
	"strings"
)

// keysyms maps the planner-facing key vocabulary to X11 keysym names. The
// planner is prompted with the lowercase names on the left; lookup is
// case-insensitive.
var keysyms = map[string]string{
	"enter":     "Return",
	"return":    "Return",
	"tab":       "Tab",
	"escape":    "Escape",
	"esc":       "Escape",
	"space":     "space",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Page_Up",
	"pagedown":  "Page_Down",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"f1":        "F1",
	"f2":        "F2",
	"f3":        "F3",
	"f4":        "F4",
	"f5":        "F5",
	"f6":        "F6",
	"f7":        "F7",
	"f8":        "F8",
	"f9":        "F9",
	"f10":       "F10",
	"f11":       "F11",
	"f12":       "F12",
	// Common chords the planner reaches for.
	"ctrl+c":  "ctrl+c",
	"ctrl+v":  "ctrl+v",
	"ctrl+a":  "ctrl+a",
	"ctrl+s":  "ctrl+s",
	"ctrl+w":  "ctrl+w",
	"ctrl+t":  "ctrl+t",
	"ctrl+l":  "ctrl+l",
	"alt+f4":  "alt+F4",
	"alt+tab": "alt+Tab",
}

// LookupKey resolves a symbolic key name to the tool's keysym. Single
// printable characters pass through unchanged.
func LookupKey(name string) (string, bool) {
	if sym, ok := keysyms[strings.ToLower(name)]; ok {
		return sym, true
	}
	if len([]rune(name)) == 1 {
		return name, true
	}
	return "", false
}

// KnownKeys returns the planner-facing key vocabulary, sorted. Quoted back to
// the planner when it names a key that does not exist.
func KnownKeys() []string {
	out := make([]string, 0, len(keysyms))
	for k := range keysyms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
