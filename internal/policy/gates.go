package policy

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/ghosthand/api/schemas"
)

// Input is what every gate inspects.
type Input struct {
	Description string
	// Normalized is the lowercased, whitespace-collapsed description.
	Normalized string
	RequestID  string
	Origin     string
}

func newInput(description string, vc Context) Input {
	return Input{
		Description: description,
		Normalized:  strings.Join(strings.Fields(strings.ToLower(description)), " "),
		RequestID:   vc.RequestID,
		Origin:      vc.Origin,
	}
}

// Decision is one gate's outcome. A zero Decision passes.
type Decision struct {
	Deny                 bool
	Reason               string
	Risk                 schemas.RiskLevel
	RequiresConfirmation bool
	Matched              []string
}

// Gate is one stage of the filter. Check must be pure: the same input always
// yields the same decision.
type Gate interface {
	Name() schemas.Gate
	Check(in Input) (Decision, error)
}

// ScopeGate denies denylisted content and malicious intent.
type ScopeGate struct {
	denylist  keywordSet
	malicious patternSet
	rules     *ruleSet
}

func NewScopeGate(cfg Config) (*ScopeGate, error) {
	malicious, err := compilePatterns(cfg.MaliciousPatterns)
	if err != nil {
		return nil, fmt.Errorf("scope gate: %w", err)
	}
	rules, err := newRuleSet(cfg.CustomRules)
	if err != nil {
		return nil, fmt.Errorf("scope gate: %w", err)
	}
	return &ScopeGate{denylist: newKeywordSet(cfg.DenylistContent), malicious: malicious, rules: rules}, nil
}

func (g *ScopeGate) Name() schemas.Gate { return schemas.GateScope }

func (g *ScopeGate) Check(in Input) (Decision, error) {
	if m := g.malicious.find(in.Normalized); len(m) > 0 {
		return Decision{
			Deny:    true,
			Reason:  fmt.Sprintf("malicious intent detected: %s", strings.Join(m, ", ")),
			Risk:    schemas.RiskCritical,
			Matched: m,
		}, nil
	}
	if m := g.denylist.find(in.Normalized); len(m) > 0 {
		return Decision{
			Deny:    true,
			Reason:  fmt.Sprintf("denylisted content: %s", strings.Join(m, ", ")),
			Risk:    schemas.RiskHigh,
			Matched: m,
		}, nil
	}
	rule, err := g.rules.firstMatch(in)
	if err != nil {
		return Decision{}, err
	}
	if rule != nil {
		risk := rule.Risk
		if risk == "" {
			risk = schemas.RiskHigh
		}
		return Decision{
			Deny:    true,
			Reason:  fmt.Sprintf("custom rule %q matched", rule.Name),
			Risk:    risk,
			Matched: []string{rule.Name},
		}, nil
	}
	return Decision{}, nil
}

// CostGate denies anything that may spend money.
type CostGate struct {
	financial keywordSet
	amounts   patternSet
}

func NewCostGate(cfg Config) (*CostGate, error) {
	amounts, err := compilePatterns(cfg.AmountPatterns)
	if err != nil {
		return nil, fmt.Errorf("cost gate: %w", err)
	}
	return &CostGate{financial: newKeywordSet(cfg.FinancialKeywords), amounts: amounts}, nil
}

func (g *CostGate) Name() schemas.Gate { return schemas.GateCost }

func (g *CostGate) Check(in Input) (Decision, error) {
	m := g.financial.find(in.Normalized)
	if len(m) == 0 {
		return Decision{}, nil
	}
	d := Decision{
		Deny:                 true,
		Reason:               fmt.Sprintf("financial action requires confirmation: %s", strings.Join(m, ", ")),
		Risk:                 schemas.RiskMedium,
		RequiresConfirmation: true,
		Matched:              m,
	}
	if amounts := g.amounts.find(in.Normalized); len(amounts) > 0 {
		d.Risk = schemas.RiskHigh
		d.Matched = append(d.Matched, amounts...)
		d.Reason += fmt.Sprintf(" (amount %s)", amounts[0])
	}
	return d, nil
}

// IntegrityGate protects sensitive data and system-critical operations.
type IntegrityGate struct {
	sensitive         keywordSet
	sensitivePatterns patternSet
	critical          keywordSet
	write             keywordSet
}

func NewIntegrityGate(cfg Config) (*IntegrityGate, error) {
	patterns, err := compilePatterns(cfg.SensitivePatterns)
	if err != nil {
		return nil, fmt.Errorf("integrity gate: %w", err)
	}
	return &IntegrityGate{
		sensitive:         newKeywordSet(cfg.SensitiveKeywords),
		sensitivePatterns: patterns,
		critical:          newKeywordSet(cfg.SystemCriticalKeywords),
		write:             newKeywordSet(cfg.WriteKeywords),
	}, nil
}

func (g *IntegrityGate) Name() schemas.Gate { return schemas.GateIntegrity }

func (g *IntegrityGate) Check(in Input) (Decision, error) {
	sensitive := append(g.sensitive.find(in.Normalized), g.sensitivePatterns.find(in.Normalized)...)
	critical := g.critical.find(in.Normalized)
	if len(sensitive) == 0 && len(critical) == 0 {
		return Decision{}, nil
	}

	d := Decision{Deny: true, Risk: schemas.RiskHigh}
	var reasons []string
	if len(sensitive) > 0 {
		reasons = append(reasons, "sensitive data: "+strings.Join(sensitive, ", "))
		d.Matched = append(d.Matched, sensitive...)
	}
	if len(critical) > 0 {
		reasons = append(reasons, "system-critical operation: "+strings.Join(critical, ", "))
		d.Matched = append(d.Matched, critical...)
		if w := g.write.find(in.Normalized); len(w) > 0 {
			d.Risk = schemas.RiskCritical
		}
	}
	d.Reason = strings.Join(reasons, "; ")
	return d, nil
}
