package resource

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"finserv-backend/internal/store"
)

// Rule is one declarative validation attached to an engine config. Field rules
// check a single value with Operator/Value; expression rules evaluate an
// expr-lang expression against {record, old, action} and fail when it yields
// true.
type Rule struct {
	Field      string
	Operator   string // required, min, max, min_length, max_length, pattern
	Value      any
	Expression string
	Message    string

	compiled *vm.Program
}

// EvaluateRules runs field rules then expression rules against the payload.
func EvaluateRules(rules []*Rule, record store.Record, old store.Record, action string) []ErrorDetail {
	if len(rules) == 0 {
		return nil
	}
	if old == nil {
		old = store.Record{}
	}
	env := map[string]any{
		"record": record,
		"old":    old,
		"action": action,
	}

	var errs []ErrorDetail
	for _, r := range rules {
		if r.Expression != "" {
			if detail := evaluateExpressionRule(r, env); detail != nil {
				errs = append(errs, *detail)
			}
			continue
		}
		if detail := evaluateFieldRule(r, record, action); detail != nil {
			errs = append(errs, *detail)
		}
	}
	return errs
}

func evaluateFieldRule(rule *Rule, record store.Record, action string) *ErrorDetail {
	val, exists := record[rule.Field]

	msg := rule.Message
	if msg == "" {
		msg = fmt.Sprintf("field %s failed %s validation", rule.Field, rule.Operator)
	}

	if rule.Operator == "required" {
		// Updates are partial documents; required only binds on create.
		if action == "create" && (!exists || val == nil || val == "") {
			return &ErrorDetail{Field: rule.Field, Rule: "required", Message: msg}
		}
		return nil
	}

	// Absent fields are not checked by the remaining operators.
	if !exists || val == nil {
		return nil
	}

	switch rule.Operator {
	case "min":
		num, ok := toFloat64(val)
		threshold, tok := toFloat64(rule.Value)
		if ok && tok && num < threshold {
			return &ErrorDetail{Field: rule.Field, Rule: "min", Message: msg}
		}
	case "max":
		num, ok := toFloat64(val)
		threshold, tok := toFloat64(rule.Value)
		if ok && tok && num > threshold {
			return &ErrorDetail{Field: rule.Field, Rule: "max", Message: msg}
		}
	case "min_length":
		s, ok := val.(string)
		threshold, tok := toFloat64(rule.Value)
		if ok && tok && len(s) < int(threshold) {
			return &ErrorDetail{Field: rule.Field, Rule: "min_length", Message: msg}
		}
	case "max_length":
		s, ok := val.(string)
		threshold, tok := toFloat64(rule.Value)
		if ok && tok && len(s) > int(threshold) {
			return &ErrorDetail{Field: rule.Field, Rule: "max_length", Message: msg}
		}
	case "pattern":
		s, ok := val.(string)
		pattern, pok := rule.Value.(string)
		if ok && pok {
			matched, err := regexp.MatchString(pattern, s)
			if err != nil || !matched {
				return &ErrorDetail{Field: rule.Field, Rule: "pattern", Message: msg}
			}
		}
	}
	return nil
}

func evaluateExpressionRule(rule *Rule, env map[string]any) *ErrorDetail {
	if rule.compiled == nil {
		prog, err := expr.Compile(rule.Expression, expr.AsBool())
		if err != nil {
			return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("compile error: %v", err)}
		}
		rule.compiled = prog
	}

	result, err := expr.Run(rule.compiled, env)
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}

	violated, ok := result.(bool)
	if !ok || !violated {
		return nil
	}

	msg := rule.Message
	if msg == "" {
		msg = "Expression rule violated"
	}
	return &ErrorDetail{Field: rule.Field, Rule: "expression", Message: msg}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
