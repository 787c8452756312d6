package rules

// Simple expression evaluator for job run conditions. Handles the variable
// comparisons pipeline definitions actually use; not a general expression
// language.
//
// Supported forms:
//
//	$VAR == "value"     equality
//	$VAR != "value"     inequality
//	$VAR =~ "substr"    substring match
//	$VAR                truthiness (defined and non-empty)
//	expr && expr        conjunction
//	expr || expr        disjunction
//	( expr )            grouping

import (
	"fmt"
	"strings"

	"github.com/gantryci/gantry/internal/gantry/domain"
)

// Evaluate resolves a run-condition expression against a merged variable
// scope. An empty expression matches unconditionally.
func Evaluate(expr string, vars map[string]string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	return evaluate(expr, vars)
}

// CheckSyntax validates an expression without caring about its value.
// Used at definition ingestion so runtime evaluation cannot fail.
func CheckSyntax(expr string) error {
	_, err := Evaluate(expr, nil)
	return err
}

// ValidVariableName reports whether a name can be referenced as $name in an
// expression
func ValidVariableName(name string) bool {
	_, err := parseVariable("$" + name)
	return err == nil
}

// FirstMatch returns the first rule whose condition matches the variables,
// or nil when no rule matches.
func FirstMatch(rs []domain.Rule, vars map[string]string) (*domain.Rule, error) {
	for i := range rs {
		matched, err := Evaluate(rs[i].If, vars)
		if err != nil {
			return nil, err
		}
		if matched {
			return &rs[i], nil
		}
	}
	return nil, nil
}

// evaluate recursively parses and evaluates an expression
func evaluate(expr string, vars map[string]string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("empty expression")
	}

	// Strip grouping parentheses when they enclose the whole expression
	if enclosed(expr) {
		return evaluate(expr[1:len(expr)-1], vars)
	}

	// Disjunction has the lowest precedence
	if parts := splitTopLevel(expr, "||"); len(parts) > 1 {
		for _, part := range parts {
			matched, err := evaluate(part, vars)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil
	}

	// Then conjunction
	if parts := splitTopLevel(expr, "&&"); len(parts) > 1 {
		for _, part := range parts {
			matched, err := evaluate(part, vars)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	}

	return evaluateComparison(expr, vars)
}

// evaluateComparison handles a single `$VAR op operand` clause or a bare
// `$VAR` truthiness check
func evaluateComparison(expr string, vars map[string]string) (bool, error) {
	for _, op := range []string{"==", "!=", "=~"} {
		idx := indexTopLevel(expr, op)
		if idx < 0 {
			continue
		}

		name, err := parseVariable(strings.TrimSpace(expr[:idx]))
		if err != nil {
			return false, err
		}
		value, err := resolveOperand(strings.TrimSpace(expr[idx+len(op):]), vars)
		if err != nil {
			return false, err
		}

		switch op {
		case "==":
			return vars[name] == value, nil
		case "!=":
			return vars[name] != value, nil
		default:
			return strings.Contains(vars[name], value), nil
		}
	}

	name, err := parseVariable(expr)
	if err != nil {
		return false, err
	}
	return vars[name] != "", nil
}

// resolveOperand returns the concrete value of a comparison's right side:
// a quoted literal or another variable reference
func resolveOperand(operand string, vars map[string]string) (string, error) {
	if operand == "" {
		return "", fmt.Errorf("comparison is missing its right-hand side")
	}

	if strings.HasPrefix(operand, "$") {
		name, err := parseVariable(operand)
		if err != nil {
			return "", err
		}
		return vars[name], nil
	}

	if len(operand) >= 2 {
		if (operand[0] == '"' && operand[len(operand)-1] == '"') ||
			(operand[0] == '\'' && operand[len(operand)-1] == '\'') {
			return operand[1 : len(operand)-1], nil
		}
	}

	return "", fmt.Errorf("literal %q must be quoted", operand)
}

// parseVariable validates a `$NAME` reference and returns the bare name
func parseVariable(token string) (string, error) {
	if !strings.HasPrefix(token, "$") {
		return "", fmt.Errorf("expected a $VARIABLE reference, got %q", token)
	}
	name := token[1:]
	if name == "" {
		return "", fmt.Errorf("empty variable name")
	}
	for i, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return "", fmt.Errorf("invalid variable name %q", name)
	}
	return name, nil
}

// enclosed returns true if the expression is wrapped in one matching pair
// of parentheses
func enclosed(expr string) bool {
	if !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, ")") {
		return false
	}
	depth := 0
	inQuote := byte(0)
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 && i < len(expr)-1 {
				return false
			}
		}
	}
	return depth == 0
}

// splitTopLevel splits on an operator occurring outside quotes and
// parentheses. Returns a single-element slice when the operator is absent.
func splitTopLevel(expr, op string) []string {
	var parts []string
	depth := 0
	inQuote := byte(0)
	start := 0

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(expr[i:], op):
			parts = append(parts, expr[start:i])
			i += len(op) - 1
			start = i + 1
		}
	}

	parts = append(parts, expr[start:])
	return parts
}

// indexTopLevel returns the position of an operator outside quotes and
// parentheses, or -1
func indexTopLevel(expr, op string) int {
	depth := 0
	inQuote := byte(0)

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(expr[i:], op):
			return i
		}
	}
	return -1
}
