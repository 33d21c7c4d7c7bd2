// Package policy implements the three-gate action filter (scope, cost, integrity)
// that every action must pass before it reaches the input injector.
package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/api/schemas"
	"github.com/xkilldash9x/ghosthand/internal/audit"
)

// Context identifies the request under validation.
type Context struct {
	RequestID string
	Origin    string
}

// Engine runs the gate chain. Validate is synchronous and pure with respect to the
// configured keyword sets; the only side effect is the audit trail.
type Engine struct {
	gates  []Gate
	sink   audit.Sink
	logger *zap.Logger

	mu       sync.RWMutex
	trail    []schemas.AuditRecord
	capacity int

	overrideCodes []string
	now           func() time.Time
}

// NewEngine builds the scope, cost and integrity gates from cfg. sink may be nil.
func NewEngine(cfg Config, sink audit.Sink, logger *zap.Logger) (*Engine, error) {
	scope, err := NewScopeGate(cfg)
	if err != nil {
		return nil, err
	}
	cost, err := NewCostGate(cfg)
	if err != nil {
		return nil, err
	}
	integrity, err := NewIntegrityGate(cfg)
	if err != nil {
		return nil, err
	}
	return NewEngineWithGates([]Gate{scope, cost, integrity}, cfg, sink, logger), nil
}

// NewEngineWithGates builds an engine over an explicit gate chain.
func NewEngineWithGates(gates []Gate, cfg Config, sink audit.Sink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	codes := make([]string, 0, len(cfg.OverrideCodes))
	for _, c := range cfg.OverrideCodes {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return &Engine{
		gates:         gates,
		sink:          sink,
		logger:        logger.Named("policy"),
		capacity:      cfg.AuditCapacity,
		overrideCodes: codes,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ValidateRequest validates an action request by its description.
func (e *Engine) ValidateRequest(ctx context.Context, req schemas.ActionRequest) schemas.ValidationVerdict {
	return e.Validate(ctx, req.Description, Context{RequestID: req.ID, Origin: req.Origin})
}

// Validate runs the gates in order and stops at the first denial. Every call, pass
// or fail, is appended to the audit trail.
func (e *Engine) Validate(ctx context.Context, description string, vc Context) schemas.ValidationVerdict {
	start := time.Now()
	in := newInput(description, vc)

	verdict := schemas.ValidationVerdict{
		RequestID: vc.RequestID,
		Approved:  true,
		Reason:    "all gates passed",
		RiskLevel: schemas.RiskLow,
	}
	var matched []string

	if in.Normalized == "" {
		verdict.Approved = false
		verdict.Reason = "empty action description"
		verdict.GateTriggered = schemas.GateScope
		verdict.RiskLevel = schemas.RiskHigh
	} else {
		for _, g := range e.gates {
			d, err := g.Check(in)
			if err != nil {
				// Fail closed.
				e.logger.Error("Gate evaluation failed.", zap.String("gate", string(g.Name())), zap.Error(err))
				d = Decision{Deny: true, Reason: fmt.Sprintf("gate error: %v", err), Risk: schemas.RiskCritical}
			}
			if d.Deny {
				verdict.Approved = false
				verdict.Reason = d.Reason
				verdict.GateTriggered = g.Name()
				verdict.RiskLevel = d.Risk
				verdict.RequiresConfirmation = d.RequiresConfirmation
				matched = d.Matched
				break
			}
		}
	}
	evaluationDuration.Observe(time.Since(start).Seconds())

	verdict.Audit = schemas.AuditRecord{
		Timestamp:            e.now(),
		RequestID:            vc.RequestID,
		Description:          description,
		Origin:               vc.Origin,
		Approved:             verdict.Approved,
		Gate:                 verdict.GateTriggered,
		RiskLevel:            verdict.RiskLevel,
		Matched:              matched,
		RequiresConfirmation: verdict.RequiresConfirmation,
	}
	e.record(ctx, verdict)

	decision := "approved"
	if !verdict.Approved {
		decision = "denied"
	}
	verdictsTotal.WithLabelValues(decision, string(verdict.GateTriggered), string(verdict.RiskLevel)).Inc()
	e.logger.Info("Action validated.",
		zap.String("request_id", vc.RequestID),
		zap.String("decision", decision),
		zap.String("gate", string(verdict.GateTriggered)),
		zap.String("risk", string(verdict.RiskLevel)),
		zap.Bool("requires_confirmation", verdict.RequiresConfirmation))
	return verdict
}

// record appends to the in-memory trail and forwards to the sink. Sink failures are
// logged; they never change a verdict.
func (e *Engine) record(ctx context.Context, v schemas.ValidationVerdict) {
	e.mu.Lock()
	e.trail = append(e.trail, v.Audit)
	if e.capacity > 0 && len(e.trail) > e.capacity {
		e.trail = append([]schemas.AuditRecord(nil), e.trail[len(e.trail)-e.capacity:]...)
	}
	e.mu.Unlock()

	if e.sink == nil {
		return
	}
	entry, err := audit.FromPayload(v)
	if err == nil {
		err = e.sink.Append(ctx, entry)
	}
	if err != nil {
		e.logger.Error("Failed to persist audit record.", zap.String("request_id", v.RequestID), zap.Error(err))
	}
}

// Trail returns a copy of the in-memory audit trail, oldest first.
func (e *Engine) Trail() []schemas.AuditRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]schemas.AuditRecord, len(e.trail))
	copy(out, e.trail)
	return out
}
