package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

type compiledRule struct {
	Rule
	prg cel.Program
}

// ruleSet holds the CEL deny rules, compiled once at construction so evaluation is
// read-only and safe for concurrent use.
type ruleSet struct {
	rules []compiledRule
}

func newRuleSet(rules []Rule) (*ruleSet, error) {
	rs := &ruleSet{}
	if len(rules) == 0 {
		return rs, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("origin", cel.StringType),
		cel.Variable("request_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	for i, r := range rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule_%d", i)
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %q must evaluate to bool, got %s", name, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("program rule %q: %w", name, err)
		}
		r.Name = name
		rs.rules = append(rs.rules, compiledRule{Rule: r, prg: prg})
	}
	return rs, nil
}

// firstMatch returns the first rule whose expression is true, in configuration order.
func (rs *ruleSet) firstMatch(in Input) (*Rule, error) {
	if rs == nil {
		return nil, nil
	}
	vars := map[string]any{
		"action":     in.Normalized,
		"origin":     in.Origin,
		"request_id": in.RequestID,
	}
	for i := range rs.rules {
		out, _, err := rs.rules[i].prg.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("evaluate rule %q: %w", rs.rules[i].Name, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("evaluate rule %q: result %v is not a bool", rs.rules[i].Name, out.Value())
		}
		if matched {
			return &rs.rules[i].Rule, nil
		}
	}
	return nil, nil
}
