package schemas

import (
	"errors"
	"fmt"
	"time"
)

// -- Bus Message Schemas --

// PayloadKind tags the variant carried by a TaskMessage.
type PayloadKind string

const (
	PayloadActionRequest     PayloadKind = "action_request"
	PayloadValidationVerdict PayloadKind = "validation_verdict"
	PayloadExecutionResult   PayloadKind = "execution_result"
	PayloadKillSwitchEvent   PayloadKind = "kill_switch_event"
)

// Payload is the closed set of message variants the dispatch bus carries.
// Only types in this package can implement it.
type Payload interface {
	PayloadKind() PayloadKind
	isPayload()
}

// ErrInvalidMessage is returned when a TaskMessage is constructed without a payload.
var ErrInvalidMessage = errors.New("invalid task message")

// TaskMessage is one entry on the priority dispatch bus. Lower Priority values are
// delivered first; Seq breaks ties in enqueue order. Messages are passed by value
// and never modified after publication.
type TaskMessage struct {
	Priority   int       `json:"priority"`
	Seq        uint64    `json:"seq"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Payload    Payload   `json:"payload"`
}

// NewTaskMessage validates and builds a message. The bus assigns Seq and EnqueuedAt.
func NewTaskMessage(priority int, payload Payload) (TaskMessage, error) {
	if payload == nil {
		return TaskMessage{}, fmt.Errorf("%w: nil payload", ErrInvalidMessage)
	}
	return TaskMessage{Priority: priority, Payload: payload}, nil
}

// Kind returns the payload variant tag.
func (m TaskMessage) Kind() PayloadKind {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.PayloadKind()
}

// Less reports whether m must be delivered before other.
func (m TaskMessage) Less(other TaskMessage) bool {
	if m.Priority != other.Priority {
		return m.Priority < other.Priority
	}
	return m.Seq < other.Seq
}

// Default priorities. Safety traffic always outranks planner traffic.
const (
	PriorityKillSwitch = 0
	PriorityVerdict    = 5
	PriorityResult     = 5
	PriorityAction     = 10
)

// -- Verdict Schemas --

// Gate names one stage of the policy filter.
type Gate string

const (
	GateNone      Gate = ""
	GateScope     Gate = "scope"
	GateCost      Gate = "cost"
	GateIntegrity Gate = "integrity"
)

// RiskLevel grades a verdict.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels; unknown levels rank above critical so they are never
// mistaken for safe.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 4
}

// AuditRecord is the self-contained audit trail entry for one validate call.
type AuditRecord struct {
	Timestamp            time.Time `json:"timestamp"`
	RequestID            string    `json:"request_id,omitempty"`
	Description          string    `json:"description"`
	Origin               string    `json:"origin,omitempty"`
	Approved             bool      `json:"approved"`
	Gate                 Gate      `json:"gate_triggered,omitempty"`
	RiskLevel            RiskLevel `json:"risk_level"`
	Matched              []string  `json:"matched,omitempty"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
	EmergencyOverride    bool      `json:"emergency_override"`
	Operator             string    `json:"operator,omitempty"`
}

// ValidationVerdict is the policy decision for exactly one ActionRequest.
type ValidationVerdict struct {
	RequestID            string      `json:"request_id"`
	Approved             bool        `json:"approved"`
	Reason               string      `json:"reason"`
	GateTriggered        Gate        `json:"gate_triggered,omitempty"`
	RiskLevel            RiskLevel   `json:"risk_level"`
	RequiresConfirmation bool        `json:"requires_confirmation"`
	Audit                AuditRecord `json:"audit_record"`
}

func (ValidationVerdict) isPayload()                {}
func (ValidationVerdict) PayloadKind() PayloadKind { return PayloadValidationVerdict }

// -- Execution Schemas --

// ExecutionStatus is the terminal state reported for a request.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusDenied    ExecutionStatus = "denied"
	StatusHalted    ExecutionStatus = "halted"
)

// ExecutionResult is the one terminal record emitted per ActionRequest.
// A completed result with Success=false carries the injection failure kind.
type ExecutionResult struct {
	RequestID    string          `json:"request_id"`
	Kind         ActionKind      `json:"action_kind,omitempty"`
	Status       ExecutionStatus `json:"status"`
	Success      bool            `json:"success"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Error        string          `json:"error,omitempty"`
	StepsApplied int             `json:"steps_applied"`
	StepsPlanned int             `json:"steps_planned"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

func (ExecutionResult) isPayload()                {}
func (ExecutionResult) PayloadKind() PayloadKind { return PayloadExecutionResult }

// -- Kill Switch Schemas --

// TriggerSource names the monitor that fired the kill switch.
type TriggerSource string

const (
	TriggerHotkey   TriggerSource = "hotkey"
	TriggerFile     TriggerSource = "file"
	TriggerNetwork  TriggerSource = "network"
	TriggerWatchdog TriggerSource = "watchdog"
	TriggerParent   TriggerSource = "parent"
	TriggerManual   TriggerSource = "manual"
)

// KillSwitchEvent is an append-only audit record written once per firing.
type KillSwitchEvent struct {
	ID                  string        `json:"id"`
	Timestamp           time.Time     `json:"timestamp"`
	TriggerSource       TriggerSource `json:"trigger_source"`
	Reason              string        `json:"reason"`
	AffectedProcessIDs  []int         `json:"affected_process_ids"`
	TerminatedProcesses []int         `json:"terminated_process_ids,omitempty"`
	Success             bool          `json:"success"`
	Error               string        `json:"error,omitempty"`
}

func (KillSwitchEvent) isPayload()                {}
func (KillSwitchEvent) PayloadKind() PayloadKind { return PayloadKillSwitchEvent }
