package schemas

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -- Action Schemas --

// ActionKind identifies the concrete input operation an ActionRequest asks for.
type ActionKind string

const (
	ActionUnknown ActionKind = ""
	ActionMove    ActionKind = "move"
	ActionClick   ActionKind = "click"
	ActionType    ActionKind = "type"
	ActionPress   ActionKind = "press"
	ActionHotkey  ActionKind = "hotkey"
	ActionDrag    ActionKind = "drag"
	ActionScroll  ActionKind = "scroll"
)

// Valid reports whether k is one of the executable action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionMove, ActionClick, ActionType, ActionPress, ActionHotkey, ActionDrag, ActionScroll:
		return true
	}
	return false
}

// MouseButton defines the mouse button used by click and drag actions.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// Point is a screen coordinate in pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Limits on executable actions. Coordinates cover any virtual desktop; larger
// values are planner errors.
const (
	MaxCoordinate    = 1 << 15
	MaxScrollNotches = 100
	MaxClicks        = 3
)

// InRange reports whether both coordinates lie within ±MaxCoordinate.
func (p Point) InRange() bool {
	return p.X >= -MaxCoordinate && p.X <= MaxCoordinate && p.Y >= -MaxCoordinate && p.Y <= MaxCoordinate
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// WindowDescriptor selects a target window by owning process id, title, or both.
type WindowDescriptor struct {
	PID   int    `json:"pid,omitempty"`
	Title string `json:"title,omitempty"`
}

// IsZero reports whether the descriptor selects nothing.
func (w *WindowDescriptor) IsZero() bool {
	return w == nil || (w.PID == 0 && w.Title == "")
}

// Target is where an action lands. Point is the primary coordinate, To is the drop
// point of a drag, and Window optionally pins the action to a specific window.
type Target struct {
	Point  *Point            `json:"point,omitempty"`
	To     *Point            `json:"to,omitempty"`
	Window *WindowDescriptor `json:"window,omitempty"`
}

// ActionParameters carries the kind-specific arguments of an action.
type ActionParameters struct {
	Text   string      `json:"text,omitempty"`
	Keys   []string    `json:"keys,omitempty"`
	Button MouseButton `json:"button,omitempty"`
	Clicks int         `json:"clicks,omitempty"`
	// ScrollX and ScrollY are wheel notches; positive Y scrolls down, positive X right.
	ScrollX int `json:"scroll_x,omitempty"`
	ScrollY int `json:"scroll_y,omitempty"`
}

// ActionRequest is a proposed action produced by an upstream planner.
// Description is the free-form text the policy gates inspect; Kind, Target and
// Parameters describe the executable form. When Kind is empty the executable form
// is derived from Description with ParseActionDescription.
type ActionRequest struct {
	ID          string           `json:"id"`
	Kind        ActionKind       `json:"action_kind,omitempty"`
	Description string           `json:"action"`
	Target      Target           `json:"target"`
	Parameters  ActionParameters `json:"parameters"`
	Origin      string           `json:"origin"`
	RequestedAt time.Time        `json:"requested_at"`
}

// ErrInvalidActionRequest is returned when a request is missing mandatory fields.
var ErrInvalidActionRequest = errors.New("invalid action request")

// NewActionRequest builds a request from a planner description. The executable form
// is parsed eagerly when possible; an unparseable description is still a valid
// request because the policy gates must see it before anything else happens.
func NewActionRequest(description, origin string) (ActionRequest, error) {
	req := ActionRequest{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(description),
		Origin:      origin,
		RequestedAt: time.Now().UTC(),
	}
	if parsed, err := ParseActionDescription(req.Description); err == nil {
		req.Kind = parsed.Kind
		req.Target = parsed.Target
		req.Parameters = parsed.Parameters
	}
	if err := req.Validate(); err != nil {
		return ActionRequest{}, err
	}
	return req, nil
}

// Normalize fills defaults on a decoded request (ID, origin, timestamp) and validates it.
func (r *ActionRequest) Normalize() error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Origin == "" {
		r.Origin = "unknown"
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	r.Description = strings.TrimSpace(r.Description)
	if r.Description == "" && r.Kind.Valid() {
		r.Description = r.Summary()
	}
	return r.Validate()
}

// Validate checks mandatory fields. Kind-specific fields are only checked when the
// request already carries an explicit kind.
func (r ActionRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidActionRequest)
	}
	if r.Description == "" {
		return fmt.Errorf("%w: missing action description", ErrInvalidActionRequest)
	}
	if r.Origin == "" {
		return fmt.Errorf("%w: missing origin", ErrInvalidActionRequest)
	}
	if r.Kind == ActionUnknown {
		return nil
	}
	return r.validateExecutable()
}

// Executable returns a copy of the request whose Kind is resolved, parsing the
// description when no explicit kind was given.
func (r ActionRequest) Executable() (ActionRequest, error) {
	if r.Kind == ActionUnknown {
		parsed, err := ParseActionDescription(r.Description)
		if err != nil {
			return r, err
		}
		r.Kind = parsed.Kind
		if r.Target.Point == nil {
			r.Target.Point = parsed.Target.Point
		}
		if r.Target.To == nil {
			r.Target.To = parsed.Target.To
		}
		r.Parameters = parsed.Parameters
	}
	if err := r.validateExecutable(); err != nil {
		return r, err
	}
	return r, nil
}

func (r ActionRequest) validateExecutable() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unsupported action kind %q", ErrInvalidActionRequest, r.Kind)
	}
	for _, p := range []*Point{r.Target.Point, r.Target.To} {
		if p != nil && !p.InRange() {
			return fmt.Errorf("%w: coordinate %s out of range", ErrInvalidActionRequest, p)
		}
	}
	if r.Parameters.Clicks < 0 || r.Parameters.Clicks > MaxClicks {
		return fmt.Errorf("%w: clicks must be between 0 and %d", ErrInvalidActionRequest, MaxClicks)
	}
	switch r.Kind {
	case ActionMove, ActionClick:
		if r.Target.Point == nil && r.Target.Window.IsZero() {
			return fmt.Errorf("%w: %s requires a point or window target", ErrInvalidActionRequest, r.Kind)
		}
	case ActionType:
		if r.Parameters.Text == "" {
			return fmt.Errorf("%w: type requires text", ErrInvalidActionRequest)
		}
	case ActionPress:
		if len(r.Parameters.Keys) != 1 {
			return fmt.Errorf("%w: press requires exactly one key", ErrInvalidActionRequest)
		}
	case ActionHotkey:
		if len(r.Parameters.Keys) == 0 {
			return fmt.Errorf("%w: hotkey requires at least one key", ErrInvalidActionRequest)
		}
	case ActionDrag:
		if r.Target.Point == nil || r.Target.To == nil {
			return fmt.Errorf("%w: drag requires start and end points", ErrInvalidActionRequest)
		}
	case ActionScroll:
		if r.Parameters.ScrollX == 0 && r.Parameters.ScrollY == 0 {
			return fmt.Errorf("%w: scroll requires a non-zero amount", ErrInvalidActionRequest)
		}
		if notchesOutOfRange(r.Parameters.ScrollX) || notchesOutOfRange(r.Parameters.ScrollY) {
			return fmt.Errorf("%w: scroll amount exceeds %d notches", ErrInvalidActionRequest, MaxScrollNotches)
		}
	}
	return nil
}

func notchesOutOfRange(n int) bool { return n < -MaxScrollNotches || n > MaxScrollNotches }

// Summary renders the executable form as canonical action text.
func (r ActionRequest) Summary() string {
	switch r.Kind {
	case ActionMove:
		if r.Target.Point != nil {
			return "move to " + r.Target.Point.String()
		}
		return "move to window"
	case ActionClick:
		if r.Target.Point != nil {
			return "click " + r.Target.Point.String()
		}
		return "click window"
	case ActionType:
		return fmt.Sprintf("type %q", r.Parameters.Text)
	case ActionPress:
		return "press " + strings.Join(r.Parameters.Keys, "+")
	case ActionHotkey:
		return "hotkey " + strings.Join(r.Parameters.Keys, "+")
	case ActionDrag:
		if r.Target.Point != nil && r.Target.To != nil {
			return "drag " + r.Target.Point.String() + " to " + r.Target.To.String()
		}
		return "drag"
	case ActionScroll:
		return fmt.Sprintf("scroll %d,%d", r.Parameters.ScrollX, r.Parameters.ScrollY)
	}
	return r.Description
}

func (ActionRequest) isPayload()                {}
func (ActionRequest) PayloadKind() PayloadKind { return PayloadActionRequest }
