package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionDescription(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  ActionKind
		check func(t *testing.T, req ActionRequest)
	}{
		{
			name:  "move with parenthesized coordinates",
			input: "move to (120,340)",
			kind:  ActionMove,
			check: func(t *testing.T, req ActionRequest) {
				require.NotNil(t, req.Target.Point)
				assert.Equal(t, Point{X: 120, Y: 340}, *req.Target.Point)
			},
		},
		{
			name:  "move the cursor with spaces",
			input: "Move the cursor to ( 5 , 6 )",
			kind:  ActionMove,
			check: func(t *testing.T, req ActionRequest) {
				assert.Equal(t, Point{X: 5, Y: 6}, *req.Target.Point)
			},
		},
		{
			name:  "double click",
			input: "double click (10,20)",
			kind:  ActionClick,
			check: func(t *testing.T, req ActionRequest) {
				assert.Equal(t, 2, req.Parameters.Clicks)
				assert.Equal(t, ButtonLeft, req.Parameters.Button)
			},
		},
		{
			name:  "right click",
			input: "right-click at (1,2)",
			kind:  ActionClick,
			check: func(t *testing.T, req ActionRequest) {
				assert.Equal(t, ButtonRight, req.Parameters.Button)
				assert.Equal(t, 1, req.Parameters.Clicks)
			},
		},
		{
			name:  "type quoted text",
			input: `type "hello world"`,
			kind:  ActionType,
			check: func(t *testing.T, req ActionRequest) {
				assert.Equal(t, "hello world", req.Parameters.Text)
			},
		},
		{
			name:  "press single key",
			input: "press Enter",
			kind:  ActionPress,
			check: func(t *testing.T, req ActionRequest) {
				assert.Equal(t, []string{"enter"}, req.Parameters.Keys)
			},
		},
		{
			name:  "press chord becomes hotkey",
			input: "press ctrl + shift + t",
			kind:  ActionHotkey,
			check: func(t *testing.T, req ActionRequest) {
				assert.Equal(t, []string{"ctrl", "shift", "t"}, req.Parameters.Keys)
			},
		},
		{
			name:  "drag between points",
			input: "drag (1,2) to (30,40)",
			kind:  ActionDrag,
			check: func(t *testing.T, req ActionRequest) {
				assert.Equal(t, Point{X: 1, Y: 2}, *req.Target.Point)
				assert.Equal(t, Point{X: 30, Y: 40}, *req.Target.To)
			},
		},
		{
			name:  "scroll up default amount",
			input: "scroll up",
			kind:  ActionScroll,
			check: func(t *testing.T, req ActionRequest) {
				assert.Equal(t, -3, req.Parameters.ScrollY)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseActionDescription(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, req.Kind)
			tt.check(t, req)
		})
	}
}

func TestParseActionDescription_Unrecognized(t *testing.T) {
	for _, input := range []string{"buy $500 of shares", "", "move somewhere nice", "scroll down 0"} {
		_, err := ParseActionDescription(input)
		assert.ErrorIs(t, err, ErrUnrecognizedAction, input)
	}
}

func TestParseActionDescription_OutOfRange(t *testing.T) {
	for _, input := range []string{
		"scroll down 99999999999999999999",
		"scroll up 101",
		"move to (99999999999999999999,1)",
		"click (40000,5)",
		"drag (1,2) to (3,-40000)",
	} {
		_, err := ParseActionDescription(input)
		assert.ErrorIs(t, err, ErrUnrecognizedAction, input)
	}

	req, err := ParseActionDescription("scroll down 100")
	require.NoError(t, err)
	assert.Equal(t, MaxScrollNotches, req.Parameters.ScrollY)
}

func TestExecutable_Bounds(t *testing.T) {
	t.Run("oversized scroll from the grammar is not executable", func(t *testing.T) {
		req, err := NewActionRequest("scroll down 99999999999999999999", "planner")
		require.NoError(t, err)
		assert.Equal(t, ActionUnknown, req.Kind)
		_, err = req.Executable()
		assert.ErrorIs(t, err, ErrUnrecognizedAction)
	})

	tests := []struct {
		name string
		req  ActionRequest
	}{
		{"scroll y", ActionRequest{Kind: ActionScroll, Parameters: ActionParameters{ScrollY: 100000000000}}},
		{"scroll x", ActionRequest{Kind: ActionScroll, Parameters: ActionParameters{ScrollX: -MaxScrollNotches - 1}}},
		{"point", ActionRequest{Kind: ActionMove, Target: Target{Point: &Point{X: MaxCoordinate + 1}}}},
		{"drop point", ActionRequest{Kind: ActionDrag, Target: Target{Point: &Point{}, To: &Point{Y: -MaxCoordinate - 1}}}},
		{"clicks", ActionRequest{Kind: ActionClick, Target: Target{Point: &Point{}}, Parameters: ActionParameters{Clicks: 1000}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ID, tt.req.Description, tt.req.Origin = "b", "explicit", "planner"
			assert.ErrorIs(t, tt.req.Validate(), ErrInvalidActionRequest)
			_, err := tt.req.Executable()
			assert.ErrorIs(t, err, ErrInvalidActionRequest)
		})
	}
}

func TestNewActionRequest(t *testing.T) {
	t.Run("unparseable description is still a valid request", func(t *testing.T) {
		req, err := NewActionRequest("buy $500 of shares", "planner")
		require.NoError(t, err)
		assert.NotEmpty(t, req.ID)
		assert.Equal(t, ActionUnknown, req.Kind)
		assert.False(t, req.RequestedAt.IsZero())

		_, err = req.Executable()
		assert.ErrorIs(t, err, ErrUnrecognizedAction)
	})

	t.Run("empty description is rejected", func(t *testing.T) {
		_, err := NewActionRequest("   ", "planner")
		assert.ErrorIs(t, err, ErrInvalidActionRequest)
	})

	t.Run("explicit kind is validated", func(t *testing.T) {
		req := ActionRequest{ID: "a", Description: "drag", Origin: "p", Kind: ActionDrag}
		assert.ErrorIs(t, req.Validate(), ErrInvalidActionRequest)
	})

	t.Run("normalize fills defaults and summary", func(t *testing.T) {
		req := ActionRequest{Kind: ActionMove, Target: Target{Point: &Point{X: 1, Y: 2}}}
		require.NoError(t, req.Normalize())
		assert.Equal(t, "move to (1,2)", req.Description)
		assert.Equal(t, "unknown", req.Origin)
	})
}

func TestTaskMessageOrdering(t *testing.T) {
	a := TaskMessage{Priority: 1, Seq: 9}
	b := TaskMessage{Priority: 5, Seq: 1}
	c := TaskMessage{Priority: 1, Seq: 10}
	assert.True(t, a.Less(b))
	assert.True(t, a.Less(c))
	assert.False(t, c.Less(a))

	_, err := NewTaskMessage(1, nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
