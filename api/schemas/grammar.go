package schemas

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnrecognizedAction is returned when a description does not match the action grammar.
var ErrUnrecognizedAction = errors.New("unrecognized action description")

const coord = `\(\s*(-?\d+)\s*,\s*(-?\d+)\s*\)`

var (
	reMove   = regexp.MustCompile(`(?i)^(?:move|hover)(?:\s+(?:the\s+)?(?:mouse|cursor|pointer))?(?:\s+(?:to|over))?\s*` + coord + `$`)
	reClick  = regexp.MustCompile(`(?i)^(double[\s-]?|right[\s-]?|middle[\s-]?)?click(?:\s+(?:at|on))?\s*` + coord + `$`)
	reType   = regexp.MustCompile(`(?is)^type\s+(?:"(.*)"|'(.*)')$`)
	rePress  = regexp.MustCompile(`(?i)^(press|hotkey|shortcut)\s+([a-z0-9_\-]+(?:\s*\+\s*[a-z0-9_\-]+)*)$`)
	reDrag   = regexp.MustCompile(`(?i)^drag(?:\s+from)?\s*` + coord + `\s*to\s*` + coord + `$`)
	reScroll = regexp.MustCompile(`(?i)^scroll\s+(up|down|left|right)(?:\s+(\d+))?$`)
)

// ParseActionDescription parses the small action grammar planners use:
//
//	move to (120,340)          click (10,20)        double click (10,20)
//	right click (10,20)        type "hello"         press enter
//	hotkey ctrl+c              drag (1,2) to (3,4)  scroll down 3
func ParseActionDescription(description string) (ActionRequest, error) {
	text := strings.TrimSpace(description)
	var (
		req ActionRequest
		err error
	)

	if m := reMove.FindStringSubmatch(text); m != nil {
		req.Kind = ActionMove
		if req.Target.Point, err = parsePoint(text, m[1], m[2]); err != nil {
			return ActionRequest{}, err
		}
		return req, nil
	}
	if m := reClick.FindStringSubmatch(text); m != nil {
		req.Kind = ActionClick
		if req.Target.Point, err = parsePoint(text, m[2], m[3]); err != nil {
			return ActionRequest{}, err
		}
		req.Parameters.Button = ButtonLeft
		req.Parameters.Clicks = 1
		switch strings.ToLower(strings.TrimRight(m[1], " -\t")) {
		case "double":
			req.Parameters.Clicks = 2
		case "right":
			req.Parameters.Button = ButtonRight
		case "middle":
			req.Parameters.Button = ButtonMiddle
		}
		return req, nil
	}
	if m := reType.FindStringSubmatch(text); m != nil {
		req.Kind = ActionType
		req.Parameters.Text = m[1]
		if req.Parameters.Text == "" {
			req.Parameters.Text = m[2]
		}
		if req.Parameters.Text == "" {
			return ActionRequest{}, fmt.Errorf("%w: empty text in %q", ErrUnrecognizedAction, text)
		}
		return req, nil
	}
	if m := rePress.FindStringSubmatch(text); m != nil {
		keys := splitChord(m[2])
		req.Parameters.Keys = keys
		req.Kind = ActionHotkey
		if strings.EqualFold(m[1], "press") && len(keys) == 1 {
			req.Kind = ActionPress
		}
		return req, nil
	}
	if m := reDrag.FindStringSubmatch(text); m != nil {
		req.Kind = ActionDrag
		if req.Target.Point, err = parsePoint(text, m[1], m[2]); err != nil {
			return ActionRequest{}, err
		}
		if req.Target.To, err = parsePoint(text, m[3], m[4]); err != nil {
			return ActionRequest{}, err
		}
		req.Parameters.Button = ButtonLeft
		return req, nil
	}
	if m := reScroll.FindStringSubmatch(text); m != nil {
		amount := 3
		if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil || n > MaxScrollNotches {
				return ActionRequest{}, fmt.Errorf("%w: scroll amount out of range in %q", ErrUnrecognizedAction, text)
			}
			amount = n
		}
		if amount == 0 {
			return ActionRequest{}, fmt.Errorf("%w: zero scroll amount", ErrUnrecognizedAction)
		}
		req.Kind = ActionScroll
		switch strings.ToLower(m[1]) {
		case "up":
			req.Parameters.ScrollY = -amount
		case "down":
			req.Parameters.ScrollY = amount
		case "left":
			req.Parameters.ScrollX = -amount
		case "right":
			req.Parameters.ScrollX = amount
		}
		return req, nil
	}
	return ActionRequest{}, fmt.Errorf("%w: %q", ErrUnrecognizedAction, text)
}

func splitChord(chord string) []string {
	parts := strings.Split(chord, "+")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.ToLower(strings.TrimSpace(p)); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// The regexes only admit digit runs, so Atoi can only fail on overflow.
func parsePoint(text, xs, ys string) (*Point, error) {
	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	p := &Point{X: x, Y: y}
	if errX != nil || errY != nil || !p.InRange() {
		return nil, fmt.Errorf("%w: coordinate out of range in %q", ErrUnrecognizedAction, text)
	}
	return p, nil
}
