package policy

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/api/schemas"
)

var (
	// ErrOverrideDisabled is returned when no override codes are configured.
	ErrOverrideDisabled = errors.New("policy: break-glass override is not configured")
	// ErrInvalidOverrideCode is returned for a code outside the configured set.
	ErrInvalidOverrideCode = errors.New("policy: invalid override code")
	// ErrOperatorRequired is returned when the override names no operator.
	ErrOperatorRequired = errors.New("policy: override requires an operator")
)

// BreakGlass is the emergency override path. It bypasses the gates for a single
// description and is always audited with EmergencyOverride set. It is only
// constructed by the operator-facing override command; the pipeline holds a plain
// Engine and cannot reach it.
type BreakGlass struct {
	engine *Engine
}

func NewBreakGlass(e *Engine) *BreakGlass { return &BreakGlass{engine: e} }

// Authorize approves description when code is one of the configured override codes.
// Rejected attempts are audited too.
func (b *BreakGlass) Authorize(ctx context.Context, description string, vc Context, code, operator string) (schemas.ValidationVerdict, error) {
	e := b.engine
	operator = strings.TrimSpace(operator)

	var err error
	switch {
	case len(e.overrideCodes) == 0:
		err = ErrOverrideDisabled
	case operator == "":
		err = ErrOperatorRequired
	case !e.validCode(code):
		err = ErrInvalidOverrideCode
	}

	verdict := schemas.ValidationVerdict{
		RequestID: vc.RequestID,
		Approved:  err == nil,
		RiskLevel: schemas.RiskCritical,
	}
	if err == nil {
		verdict.Reason = "emergency override by " + operator
	} else {
		verdict.Reason = "emergency override rejected: " + err.Error()
	}
	verdict.Audit = schemas.AuditRecord{
		Timestamp:         e.now(),
		RequestID:         vc.RequestID,
		Description:       description,
		Origin:            vc.Origin,
		Approved:          verdict.Approved,
		RiskLevel:         verdict.RiskLevel,
		EmergencyOverride: true,
		Operator:          operator,
	}
	e.record(ctx, verdict)

	result := "granted"
	if err != nil {
		result = "rejected"
	}
	overridesTotal.WithLabelValues(result).Inc()
	e.logger.Warn("Emergency override attempted.",
		zap.String("request_id", vc.RequestID),
		zap.String("operator", operator),
		zap.String("result", result),
		zap.String("action", description))
	return verdict, err
}

// validCode compares against every configured code in constant time.
func (e *Engine) validCode(code string) bool {
	ok := 0
	for _, c := range e.overrideCodes {
		ok |= subtle.ConstantTimeCompare([]byte(c), []byte(code))
	}
	return ok == 1
}
