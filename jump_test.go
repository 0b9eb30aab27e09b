package chatsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake viewport
// ============================================================================

type fakeViewport struct {
	mu         sync.Mutex
	visible    map[string]bool
	scrolledAt time.Time
	highlights []string
	cleared    []string
}

func newFakeViewport() *fakeViewport {
	return &fakeViewport{visible: make(map[string]bool)}
}

func (v *fakeViewport) ScrollToMessage(id string) {
	v.mu.Lock()
	v.scrolledAt = time.Now()
	v.mu.Unlock()
}

func (v *fakeViewport) MessageVisible(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible[id]
}

func (v *fakeViewport) LastScrollAt() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scrolledAt
}

func (v *fakeViewport) Highlight(id string) {
	v.mu.Lock()
	v.highlights = append(v.highlights, id)
	v.mu.Unlock()
}

func (v *fakeViewport) ClearHighlight(id string) {
	v.mu.Lock()
	v.cleared = append(v.cleared, id)
	v.mu.Unlock()
}

func (v *fakeViewport) show(id string) {
	v.mu.Lock()
	v.visible[id] = true
	v.mu.Unlock()
}

func (v *fakeViewport) highlighted() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string{}, v.highlights...)
}

func testNavigator(vp *fakeViewport) *Navigator {
	return NewNavigator(vp, NavigatorConfig{
		Poll:         time.Millisecond,
		Settle:       10 * time.Millisecond,
		Timeout:      200 * time.Millisecond,
		HighlightFor: 20 * time.Millisecond,
	})
}

// ============================================================================
// Tests
// ============================================================================

func TestJumpCompletes(t *testing.T) {
	vp := newFakeViewport()
	n := testNavigator(vp)
	vp.show("m1")

	outcome := n.JumpTo(context.Background(), "m1")

	require.Equal(t, JumpCompleted, outcome)
	assert.Equal(t, []string{"m1"}, vp.highlighted())

	waitUntil(t, time.Second, func() bool {
		vp.mu.Lock()
		defer vp.mu.Unlock()
		return len(vp.cleared) == 1
	})
}

func TestJumpWaitsForSettle(t *testing.T) {
	vp := newFakeViewport()
	n := testNavigator(vp)
	vp.show("m1")

	start := time.Now()
	outcome := n.JumpTo(context.Background(), "m1")

	require.Equal(t, JumpCompleted, outcome)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond,
		"jump must wait for the viewport to settle")
}

func TestJumpTimesOut(t *testing.T) {
	vp := newFakeViewport()
	n := testNavigator(vp)

	outcome := n.JumpTo(context.Background(), "never-visible")

	assert.Equal(t, JumpTimedOut, outcome)
	assert.Empty(t, vp.highlighted(), "a timed out jump must not highlight")
}

func TestNewerJumpSupersedesOlder(t *testing.T) {
	vp := newFakeViewport()
	n := testNavigator(vp)

	first := make(chan JumpOutcome, 1)
	go func() { first <- n.JumpTo(context.Background(), "m1") }()

	// Let the first jump start polling, then fire a second one.
	time.Sleep(5 * time.Millisecond)
	vp.show("m2")
	second := n.JumpTo(context.Background(), "m2")
	vp.show("m1")

	require.Equal(t, JumpCompleted, second)
	select {
	case outcome := <-first:
		assert.Equal(t, JumpSuperseded, outcome)
	case <-time.After(time.Second):
		t.Fatal("first jump never resolved")
	}
	assert.Equal(t, []string{"m2"}, vp.highlighted(), "only the latest jump may highlight")
}

func TestJumpCancelled(t *testing.T) {
	vp := newFakeViewport()
	n := testNavigator(vp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, JumpCancelled, n.JumpTo(ctx, "m1"))
}

func TestWaitFor(t *testing.T) {
	t.Run("immediate", func(t *testing.T) {
		err := waitFor(context.Background(), time.Second, time.Millisecond, func() bool { return true })
		assert.NoError(t, err)
	})

	t.Run("eventually", func(t *testing.T) {
		n := 0
		err := waitFor(context.Background(), time.Second, time.Millisecond, func() bool {
			n++
			return n > 3
		})
		assert.NoError(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		err := waitFor(context.Background(), 10*time.Millisecond, time.Millisecond, func() bool { return false })
		assert.ErrorIs(t, err, errWaitTimeout)
	})
}

// ============================================================================
// Day dividers
// ============================================================================

func TestBuildDayDividers(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "m1", CreatedAt: day1},
		{ID: "m2", CreatedAt: day1.Add(time.Hour)},
		{ID: "m3", CreatedAt: day2},
	}

	dividers := BuildDayDividers(msgs)

	require.Len(t, dividers, 2)
	assert.Equal(t, DayDivider{Label: "March 1, 2026", Offset: 0}, dividers[0])
	assert.Equal(t, DayDivider{Label: "March 2, 2026", Offset: 2}, dividers[1])
}

func TestFloatingDayLabel(t *testing.T) {
	dividers := []DayDivider{
		{Label: "March 1, 2026", Offset: 0},
		{Label: "March 2, 2026", Offset: 40},
	}

	cases := []struct {
		name string
		top  int
		want string
	}{
		{"at the very top", 0, ""},
		{"inside day one", 20, "March 1, 2026"},
		{"near day two divider", 42, ""},
		{"approaching day two divider from above", 37, ""},
		{"inside day two", 60, "March 2, 2026"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FloatingDayLabel(dividers, tc.top, 5))
		})
	}

	assert.Equal(t, "", FloatingDayLabel(nil, 10, 5), "no dividers means no label")
}
