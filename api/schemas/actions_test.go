package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionValidate(t *testing.T) {
	testCases := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"click is structurally valid", Action{Type: ActionClick, X: 10, Y: 20}, false},
		{"click at origin is valid", Action{Type: ActionClick}, false},
		{"type requires text", Action{Type: ActionTypeText}, true},
		{"type with text", Action{Type: ActionTypeText, Text: "hello"}, false},
		{"key requires a name", Action{Type: ActionKey}, true},
		{"key with name", Action{Type: ActionKey, Key: "enter"}, false},
		{"wait requires positive seconds", Action{Type: ActionWait, Seconds: 0}, true},
		{"wait with seconds", Action{Type: ActionWait, Seconds: 1.5}, false},
		{"shell requires a command", Action{Type: ActionShellCommand, Text: "   "}, true},
		{"shell with command", Action{Type: ActionShellCommand, Text: "ls -la"}, false},
		{"done needs nothing", Action{Type: ActionDone}, false},
		{"fail needs nothing", Action{Type: ActionFail, Reason: "gave up"}, false},
		{"unknown kind is invalid", Action{Type: ActionType("SCROLL")}, true},
		{"empty kind is invalid", Action{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestActionTerminal(t *testing.T) {
	assert.True(t, Action{Type: ActionDone}.Terminal())
	assert.True(t, FailAction("reason").Terminal())
	assert.False(t, Action{Type: ActionClick}.Terminal())
	assert.False(t, Action{Type: ActionShellCommand, Text: "true"}.Terminal())
}

func TestFailAction(t *testing.T) {
	a := FailAction("unknown action kind")
	require.Equal(t, ActionFail, a.Type)
	assert.Equal(t, "unknown action kind", a.Reason)
}

func TestWaitDuration(t *testing.T) {
	a := Action{Type: ActionWait, Seconds: 2.5}
	assert.Equal(t, 2500*time.Millisecond, a.WaitDuration())
}

func TestActionSummaryTruncatesLongPayloads(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	s := Action{Type: ActionShellCommand, Text: string(long)}.Summary()
	assert.Less(t, len(s), 100)
	assert.Contains(t, s, "...")
}
