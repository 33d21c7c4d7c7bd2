package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/cel-go/cel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/audit"
)

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *audit.Memory) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	mem := audit.NewMemory()
	e, err := NewEngine(cfg, mem, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e, mem
}

func TestValidate_Gates(t *testing.T) {
	tests := []struct {
		name         string
		description  string
		approved     bool
		gate         schemas.Gate
		risk         schemas.RiskLevel
		confirmation bool
	}{
		{"plain move", "move to (120,340)", true, schemas.GateNone, schemas.RiskLow, false},
		{"typing", `type "hello world"`, true, schemas.GateNone, schemas.RiskLow, false},
		{"malicious regex", "open the phishing kit and send it", false, schemas.GateScope, schemas.RiskCritical, false},
		{"hack is critical", "hack into the admin panel", false, schemas.GateScope, schemas.RiskCritical, false},
		{"denylist substring", "install a keylogger on this box", false, schemas.GateScope, schemas.RiskHigh, false},
		{"financial with amount", "buy $500 of shares", false, schemas.GateCost, schemas.RiskHigh, true},
		{"financial with currency word", "transfer 20 euros to bob", false, schemas.GateCost, schemas.RiskHigh, true},
		{"financial without amount", "click the checkout button", false, schemas.GateCost, schemas.RiskMedium, true},
		{"sensitive keyword", "type my password into the box", false, schemas.GateIntegrity, schemas.RiskHigh, false},
		{"ssn pattern", "type 123-45-6789", false, schemas.GateIntegrity, schemas.RiskHigh, false},
		{"system critical", "shutdown the computer", false, schemas.GateIntegrity, schemas.RiskHigh, false},
		{"write escalates", "delete all files in documents", false, schemas.GateIntegrity, schemas.RiskCritical, false},
		{"rm -rf escalates", "type rm -rf / in the terminal", false, schemas.GateIntegrity, schemas.RiskCritical, false},
		{"scope short-circuits cost", "buy malware for $20", false, schemas.GateScope, schemas.RiskCritical, false},
		{"empty", "   ", false, schemas.GateScope, schemas.RiskHigh, false},
		{"keyword inside word does not match", "open the paypal-less payroll sheet", true, schemas.GateNone, schemas.RiskLow, false},
	}

	e, _ := newTestEngine(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Validate(context.Background(), tt.description, Context{RequestID: "r", Origin: "test"})
			assert.Equal(t, tt.approved, v.Approved, v.Reason)
			assert.Equal(t, tt.gate, v.GateTriggered)
			assert.Equal(t, tt.risk, v.RiskLevel)
			assert.Equal(t, tt.confirmation, v.RequiresConfirmation)
			assert.Equal(t, v.Approved, v.Audit.Approved)
			assert.Equal(t, tt.description, v.Audit.Description)
		})
	}
}

func TestValidate_ScenarioA(t *testing.T) {
	e, mem := newTestEngine(t, nil)
	req, err := schemas.NewActionRequest("buy $500 of shares", "planner")
	require.NoError(t, err)

	v := e.ValidateRequest(context.Background(), req)
	assert.False(t, v.Approved)
	assert.Equal(t, schemas.GateCost, v.GateTriggered)
	assert.True(t, v.RequiresConfirmation)
	assert.Equal(t, req.ID, v.RequestID)
	assert.Contains(t, v.Audit.Matched, "buy")
	assert.Contains(t, v.Audit.Matched, "$500")

	entries := mem.OfKind(audit.KindVerdict)
	require.Len(t, entries, 1)
	assert.Equal(t, req.ID, entries[0].RequestID)
}

func TestValidate_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	for _, d := range []string{"buy $500 of shares", "move to (1,1)", "delete the registry key", "hack the planet"} {
		a := e.Validate(context.Background(), d, Context{RequestID: "x"})
		b := e.Validate(context.Background(), d, Context{RequestID: "x"})
		assert.Equal(t, a, b, d)
	}
}

func TestValidate_EveryCallIsAudited(t *testing.T) {
	e, mem := newTestEngine(t, func(c *Config) { c.AuditCapacity = 2 })
	ctx := context.Background()
	e.Validate(ctx, "move to (1,1)", Context{RequestID: "1"})
	e.Validate(ctx, "buy stock", Context{RequestID: "2"})
	e.Validate(ctx, "scroll down", Context{RequestID: "3"})

	trail := e.Trail()
	require.Len(t, trail, 2, "in-memory trail is bounded")
	assert.Equal(t, "2", trail[0].RequestID)
	assert.Equal(t, "3", trail[1].RequestID)
	assert.Len(t, mem.Entries(), 3, "the sink keeps every record")
}

func TestScopeGate_CustomRules(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) {
		c.CustomRules = []Rule{
			{Name: "no-untrusted-origin", Expression: `origin == "untrusted"`},
			{Name: "no-terminal", Expression: `action.contains("terminal")`, Risk: schemas.RiskMedium},
		}
	})
	ctx := context.Background()

	v := e.Validate(ctx, "move to (1,1)", Context{Origin: "untrusted"})
	assert.False(t, v.Approved)
	assert.Equal(t, schemas.GateScope, v.GateTriggered)
	assert.Equal(t, schemas.RiskHigh, v.RiskLevel)
	assert.Equal(t, []string{"no-untrusted-origin"}, v.Audit.Matched)

	v = e.Validate(ctx, "click the Terminal icon", Context{Origin: "planner"})
	assert.False(t, v.Approved)
	assert.Equal(t, schemas.RiskMedium, v.RiskLevel)

	v = e.Validate(ctx, "click the browser icon", Context{Origin: "planner"})
	assert.True(t, v.Approved)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomRules = []Rule{{Name: "broken", Expression: `action ==`}}
	_, err := NewEngine(cfg, nil, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "broken")

	cfg = DefaultConfig()
	cfg.CustomRules = []Rule{{Name: "string-result", Expression: `action.contains("notepad") ? "deny" : "allow"`}}
	_, err = NewEngine(cfg, nil, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "must evaluate to bool")

	cfg = DefaultConfig()
	cfg.AmountPatterns = []string{`([`}
	_, err = NewEngine(cfg, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestScopeGate_NonBoolRuleResultFailsClosed(t *testing.T) {
	env, err := cel.NewEnv(cel.Variable("action", cel.StringType))
	require.NoError(t, err)
	ast, issues := env.Compile(`dyn(action)`)
	require.NoError(t, issues.Err())
	prg, err := env.Program(ast)
	require.NoError(t, err)

	gate, err := NewScopeGate(DefaultConfig())
	require.NoError(t, err)
	gate.rules = &ruleSet{rules: []compiledRule{{Rule: Rule{Name: "dyn-result"}, prg: prg}}}

	e := NewEngineWithGates([]Gate{gate}, DefaultConfig(), nil, zaptest.NewLogger(t))
	v := e.Validate(context.Background(), "click notepad (1,2)", Context{})
	assert.False(t, v.Approved)
	assert.Equal(t, schemas.GateScope, v.GateTriggered)
	assert.Contains(t, v.Reason, "not a bool")
}

type brokenGate struct{}

func (brokenGate) Name() schemas.Gate            { return schemas.GateIntegrity }
func (brokenGate) Check(Input) (Decision, error) { return Decision{}, errors.New("boom") }

func TestValidate_GateErrorFailsClosed(t *testing.T) {
	e := NewEngineWithGates([]Gate{brokenGate{}}, DefaultConfig(), nil, zaptest.NewLogger(t))
	v := e.Validate(context.Background(), "move to (1,1)", Context{})
	assert.False(t, v.Approved)
	assert.Equal(t, schemas.GateIntegrity, v.GateTriggered)
	assert.Equal(t, schemas.RiskCritical, v.RiskLevel)
}

func TestBreakGlass(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled without codes", func(t *testing.T) {
		e, _ := newTestEngine(t, nil)
		v, err := NewBreakGlass(e).Authorize(ctx, "delete everything", Context{RequestID: "o1"}, "anything", "alice")
		assert.ErrorIs(t, err, ErrOverrideDisabled)
		assert.False(t, v.Approved)
		assert.True(t, v.Audit.EmergencyOverride)
	})

	e, mem := newTestEngine(t, func(c *Config) { c.OverrideCodes = []string{"RED-7731", "BLUE-0042"} })
	bg := NewBreakGlass(e)

	t.Run("valid code approves and is flagged", func(t *testing.T) {
		v, err := bg.Authorize(ctx, "delete everything", Context{RequestID: "o2"}, "BLUE-0042", "alice")
		require.NoError(t, err)
		assert.True(t, v.Approved)
		assert.True(t, v.Audit.EmergencyOverride)
		assert.Equal(t, "alice", v.Audit.Operator)
		assert.Equal(t, schemas.GateNone, v.GateTriggered)
	})

	t.Run("wrong code is rejected and still audited", func(t *testing.T) {
		v, err := bg.Authorize(ctx, "delete everything", Context{RequestID: "o3"}, "RED-7730", "mallory")
		assert.ErrorIs(t, err, ErrInvalidOverrideCode)
		assert.False(t, v.Approved)
	})

	t.Run("operator required", func(t *testing.T) {
		_, err := bg.Authorize(ctx, "x", Context{}, "RED-7731", " ")
		assert.ErrorIs(t, err, ErrOperatorRequired)
	})

	overrides := mem.OfKind(audit.KindOverride)
	assert.Len(t, overrides, 3)
}

func TestKeywordSet_Find(t *testing.T) {
	ks := newKeywordSet([]string{"pay", "payment", "rm -rf", "social security"})
	assert.Equal(t, []string{"payment", "pay"}, ks.find("payment due, please pay now"))
	assert.Equal(t, []string{"rm -rf"}, ks.find("run rm -rf /tmp"))
	assert.Equal(t, []string{"social security"}, ks.find("my social security number"))
	assert.Empty(t, ks.find("repay the paypal"))
	assert.Nil(t, newKeywordSet(nil).find("anything"))
}

// FuzzValidate checks that arbitrary descriptions never panic and always produce a
// consistent, audited verdict.
func FuzzValidate(f *testing.F) {
	f.Add([]byte("buy $500 of shares"))
	f.Add([]byte("move to (120,340)"))
	f.Add([]byte("delete C:\\Windows\\system32"))

	cfg := DefaultConfig()
	cfg.AuditCapacity = 16
	e, err := NewEngine(cfg, nil, nil)
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var in struct {
			Description string
			RequestID   string
			Origin      string
		}
		if err := consumer.GenerateStruct(&in); err != nil {
			return
		}

		v := e.Validate(context.Background(), in.Description, Context{RequestID: in.RequestID, Origin: in.Origin})
		if v.Approved {
			if v.GateTriggered != schemas.GateNone || v.RiskLevel != schemas.RiskLow || v.RequiresConfirmation {
				t.Fatalf("approved verdict carries denial fields: %+v", v)
			}
		} else if v.GateTriggered == schemas.GateNone || v.Reason == "" {
			t.Fatalf("denied verdict without gate or reason: %+v", v)
		}
		if v.RequiresConfirmation && v.GateTriggered != schemas.GateCost {
			t.Fatalf("confirmation outside the cost gate: %+v", v)
		}
		if v.Audit.Description != in.Description || v.Audit.Approved != v.Approved {
			t.Fatalf("audit record does not match verdict: %+v", v)
		}
	})
}
