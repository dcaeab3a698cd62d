package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/haasonsaas/chatline/internal/tools"
)

// ApprovalThreshold is the operand magnitude above which calculate asks for
// approval.
const ApprovalThreshold = 1000

// CalculateInput is the input of the calculate tool.
type CalculateInput struct {
	A        float64 `json:"a" jsonschema:"description=Left operand"`
	B        float64 `json:"b" jsonschema:"description=Right operand"`
	Operator string  `json:"operator" jsonschema:"enum=+,enum=-,enum=*,enum=/,enum=%,description=Arithmetic operator"`
}

// CalculateOutput is the result of the calculate tool.
type CalculateOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

var errDivisionByZero = errors.New("division by zero")

var operators = map[string]func(a, b float64) (float64, error){
	"+": func(a, b float64) (float64, error) { return a + b, nil },
	"-": func(a, b float64) (float64, error) { return a - b, nil },
	"*": func(a, b float64) (float64, error) { return a * b, nil },
	"/": func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, errDivisionByZero
		}
		return a / b, nil
	},
	"%": func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, errDivisionByZero
		}
		return math.Mod(a, b), nil
	},
}

// Calculate evaluates one binary operation from a fixed operator table.
// Operands larger than ApprovalThreshold in magnitude need approval.
func Calculate() tools.Definition {
	return tools.Definition{
		Name:        "calculate",
		Description: "Perform a basic arithmetic operation on two numbers.",
		InputSchema: tools.SchemaFor(&CalculateInput{}),
		NeedsApproval: func(raw json.RawMessage) (bool, error) {
			var in CalculateInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return false, fmt.Errorf("decode input: %w", err)
			}
			return math.Abs(in.A) > ApprovalThreshold || math.Abs(in.B) > ApprovalThreshold, nil
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var in CalculateInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("decode input: %w", err)
			}
			op, ok := operators[in.Operator]
			if !ok {
				return nil, fmt.Errorf("unsupported operator %q", in.Operator)
			}
			result, err := op(in.A, in.B)
			if err != nil {
				return nil, err
			}
			return CalculateOutput{
				Expression: formatNumber(in.A) + " " + in.Operator + " " + formatNumber(in.B),
				Result:     result,
			}, nil
		},
	}
}

func formatNumber(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
