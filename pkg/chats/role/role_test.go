package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, s := range []string{"system", "user", "assistant", "tool"} {
		r, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, r.String())
	}
}

func TestParse_Unknown(t *testing.T) {
	_, err := Parse("developer")
	assert.ErrorContains(t, err, `unknown role "developer"`)
}

func TestValid(t *testing.T) {
	assert.True(t, Assistant.Valid())
	assert.False(t, Role("").Valid())
}

func TestParse_Aliases(t *testing.T) {
	for in, want := range map[string]Role{
		"model":       Assistant,
		" Assistant ": Assistant,
		"function":    Tool,
		"USER":        User,
	} {
		r, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, r, in)
	}
}

func TestTurn(t *testing.T) {
	assert.Equal(t, "model", Assistant.Turn("model"))
	assert.Equal(t, "user", User.Turn("model"))
	assert.Equal(t, "user", Tool.Turn("assistant"))
}
