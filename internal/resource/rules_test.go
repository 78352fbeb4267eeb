package resource

import (
	"testing"

	"finserv-backend/internal/store"
)

func TestRequiredBindsOnCreateOnly(t *testing.T) {
	rules := []*Rule{{Field: "amount", Operator: "required"}}

	errs := EvaluateRules(rules, store.Record{}, nil, "create")
	if len(errs) != 1 || errs[0].Rule != "required" {
		t.Fatalf("expected required violation on create, got %v", errs)
	}

	// Updates are partial documents; an absent field is not a violation.
	errs = EvaluateRules(rules, store.Record{}, nil, "update")
	if len(errs) != 0 {
		t.Fatalf("expected no violation on update, got %v", errs)
	}
}

func TestMinMaxOperators(t *testing.T) {
	rules := []*Rule{
		{Field: "amount", Operator: "min", Value: 1000},
		{Field: "amount", Operator: "max", Value: 100000},
	}

	if errs := EvaluateRules(rules, store.Record{"amount": 500.0}, nil, "create"); len(errs) != 1 {
		t.Fatalf("expected min violation, got %v", errs)
	}
	if errs := EvaluateRules(rules, store.Record{"amount": 200000.0}, nil, "create"); len(errs) != 1 {
		t.Fatalf("expected max violation, got %v", errs)
	}
	if errs := EvaluateRules(rules, store.Record{"amount": 5000.0}, nil, "create"); len(errs) != 0 {
		t.Fatalf("expected no violation, got %v", errs)
	}
}

func TestLengthAndPatternOperators(t *testing.T) {
	rules := []*Rule{
		{Field: "name", Operator: "min_length", Value: 3},
		{Field: "name", Operator: "max_length", Value: 10},
		{Field: "pan", Operator: "pattern", Value: `^[A-Z]{5}[0-9]{4}[A-Z]$`},
	}

	errs := EvaluateRules(rules, store.Record{"name": "ab", "pan": "bogus"}, nil, "create")
	if len(errs) != 2 {
		t.Fatalf("expected 2 violations, got %v", errs)
	}

	errs = EvaluateRules(rules, store.Record{"name": "Priya", "pan": "ABCDE1234F"}, nil, "create")
	if len(errs) != 0 {
		t.Fatalf("expected no violations, got %v", errs)
	}
}

func TestAbsentFieldsSkipNonRequiredOperators(t *testing.T) {
	rules := []*Rule{{Field: "tenure", Operator: "min", Value: 1}}
	if errs := EvaluateRules(rules, store.Record{}, nil, "create"); len(errs) != 0 {
		t.Fatalf("expected absent field to be skipped, got %v", errs)
	}
}

func TestExpressionRuleViolatedWhenTrue(t *testing.T) {
	rules := []*Rule{{
		Field:      "amount",
		Expression: `record.amount != nil && record.amount > 10000000`,
		Message:    "too large",
	}}

	errs := EvaluateRules(rules, store.Record{"amount": 20000000.0}, nil, "create")
	if len(errs) != 1 || errs[0].Message != "too large" {
		t.Fatalf("expected expression violation, got %v", errs)
	}

	errs = EvaluateRules(rules, store.Record{"amount": 5000.0}, nil, "create")
	if len(errs) != 0 {
		t.Fatalf("expected no violation, got %v", errs)
	}
}

func TestExpressionRuleSeesAction(t *testing.T) {
	rules := []*Rule{{Expression: `action == "update" && record.amount != nil`}}

	if errs := EvaluateRules(rules, store.Record{"amount": 1.0}, nil, "update"); len(errs) != 1 {
		t.Fatalf("expected violation on update, got %v", errs)
	}
	if errs := EvaluateRules(rules, store.Record{"amount": 1.0}, nil, "create"); len(errs) != 0 {
		t.Fatalf("expected no violation on create, got %v", errs)
	}
}

func TestExpressionCompiledOnce(t *testing.T) {
	rule := &Rule{Expression: `record.x != nil`}
	EvaluateRules([]*Rule{rule}, store.Record{}, nil, "create")
	first := rule.compiled
	if first == nil {
		t.Fatal("expected expression compiled on first evaluation")
	}
	EvaluateRules([]*Rule{rule}, store.Record{}, nil, "create")
	if rule.compiled != first {
		t.Fatal("expected compiled program reused")
	}
}
