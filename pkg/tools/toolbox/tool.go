package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler runs a tool. input is the model's JSON arguments; the returned
// text goes back to the model as the tool result.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is one capability offered to an agent. InputSchema is a JSON Schema
// object describing the arguments Handler accepts.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Decode unmarshals tool arguments into T. Empty input decodes to the zero
// value, since models often omit the arguments of tools without required
// fields. Errors are prefixed with the tool name.
func Decode[T any](tool string, input json.RawMessage) (T, error) {
	var in T
	if len(input) == 0 {
		return in, nil
	}

	if err := json.Unmarshal(input, &in); err != nil {
		return in, fmt.Errorf("%s: invalid input: %w", tool, err)
	}

	return in, nil
}
