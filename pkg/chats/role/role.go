// Package role names who produced a chat message. Inside a society both
// agents see the other side as role User; only their own replies are
// Assistant.
package role

import (
	"fmt"
	"strings"
)

type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
	Tool      Role = "tool"
)

// aliases maps provider wire names onto roles.
var aliases = map[string]Role{
	"model":    Assistant, // gemini
	"function": Tool,      // legacy openai
}

// Parse reads a role from a provider response. Matching ignores case and
// surrounding space.
func Parse(s string) (Role, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if r, ok := aliases[norm]; ok {
		return r, nil
	}

	r := Role(norm)
	if !r.Valid() {
		return "", fmt.Errorf("role: unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case System, User, Assistant, Tool:
		return true
	default:
		return false
	}
}

// Turn folds r into a two-party conversation: replies from the model keep
// the model's wire name and everything else (user input and tool results)
// is sent as "user". System messages are expected to be filtered out first.
func (r Role) Turn(model string) string {
	if r == Assistant {
		return model
	}
	return string(User)
}

func (r Role) String() string { return string(r) }
