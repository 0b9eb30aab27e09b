package chatsync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ============================================================================
// Scroll Jump Navigation
// ============================================================================

// Viewport is the message list surface a Navigator drives. Implementations
// wrap whatever renders the conversation.
type Viewport interface {
	// ScrollToMessage starts scrolling the given message into view.
	ScrollToMessage(id string)
	// MessageVisible reports whether the message is currently on screen.
	MessageVisible(id string) bool
	// LastScrollAt is when the viewport last moved.
	LastScrollAt() time.Time
	// Highlight and ClearHighlight toggle the landing emphasis.
	Highlight(id string)
	ClearHighlight(id string)
}

// JumpOutcome is the terminal state of a jump request.
type JumpOutcome string

const (
	// JumpCompleted: the message is visible, the viewport settled, and the
	// highlight was applied.
	JumpCompleted JumpOutcome = "completed"
	// JumpSuperseded: a newer jump started before this one settled; it
	// stopped without highlighting.
	JumpSuperseded JumpOutcome = "superseded"
	// JumpTimedOut: the message never became visible within the deadline.
	JumpTimedOut JumpOutcome = "timedOut"
	// JumpCancelled: the context was cancelled.
	JumpCancelled JumpOutcome = "cancelled"
)

// NavigatorConfig tunes jump timing.
type NavigatorConfig struct {
	// Poll is the visibility check interval.
	Poll time.Duration
	// Settle is how long the viewport must be still before a jump counts
	// as landed.
	Settle time.Duration
	// Timeout bounds the whole jump.
	Timeout time.Duration
	// HighlightFor is how long the landing highlight stays on.
	HighlightFor time.Duration
}

func (c *NavigatorConfig) defaults() {
	if c.Poll == 0 {
		c.Poll = 16 * time.Millisecond
	}
	if c.Settle == 0 {
		c.Settle = 120 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.HighlightFor == 0 {
		c.HighlightFor = 1600 * time.Millisecond
	}
}

// Navigator jumps the viewport to a target message, waits for the scroll to
// settle, then highlights the landing. Only the most recent jump may
// highlight: starting a new jump supersedes any in flight.
type Navigator struct {
	cfg NavigatorConfig
	vp  Viewport
	now func() time.Time

	mu    sync.Mutex
	token uint64
}

// NewNavigator creates a navigator over the given viewport.
func NewNavigator(vp Viewport, cfg NavigatorConfig) *Navigator {
	cfg.defaults()
	return &Navigator{cfg: cfg, vp: vp, now: time.Now}
}

func (n *Navigator) nextToken() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.token++
	return n.token
}

func (n *Navigator) currentToken() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.token
}

// JumpTo scrolls to messageID and blocks until the jump lands, times out,
// is superseded by a newer jump, or the context is cancelled. Timeouts are
// an outcome, not an error.
func (n *Navigator) JumpTo(ctx context.Context, messageID string) JumpOutcome {
	token := n.nextToken()
	n.vp.ScrollToMessage(messageID)

	err := waitFor(ctx, n.cfg.Timeout, n.cfg.Poll, func() bool {
		if n.currentToken() != token {
			return true
		}
		return n.vp.MessageVisible(messageID) &&
			n.now().Sub(n.vp.LastScrollAt()) >= n.cfg.Settle
	})
	if n.currentToken() != token {
		return JumpSuperseded
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return JumpCancelled
	}
	if errors.Is(err, errWaitTimeout) {
		return JumpTimedOut
	}

	n.vp.Highlight(messageID)
	time.AfterFunc(n.cfg.HighlightFor, func() {
		n.vp.ClearHighlight(messageID)
	})
	return JumpCompleted
}

// errWaitTimeout reports that waitFor's condition never held within its
// deadline.
var errWaitTimeout = errors.New("condition not met within timeout")

// waitFor polls cond every poll interval until it returns true, the timeout
// elapses, or ctx is cancelled.
func waitFor(ctx context.Context, timeout, poll time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errWaitTimeout
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}

// ============================================================================
// Day Dividers
// ============================================================================

// DayDivider marks where a new calendar day starts in the message list.
// Offset is the divider's vertical position in viewport units.
type DayDivider struct {
	Label  string
	Offset int
}

// DayLabel renders a message timestamp as a divider label.
func DayLabel(t time.Time) string {
	return t.Format("January 2, 2006")
}

// BuildDayDividers walks a sorted message list and emits one divider per
// calendar day, using each day's first message index as the offset.
func BuildDayDividers(msgs []Message) []DayDivider {
	var out []DayDivider
	prev := ""
	for i, m := range msgs {
		label := DayLabel(m.CreatedAt)
		if label != prev {
			out = append(out, DayDivider{Label: label, Offset: i})
			prev = label
		}
	}
	return out
}

// FloatingDayLabel picks the sticky day label for a scrolled viewport: the
// label of the nearest divider at or above viewportTop. It is empty at the
// very top and suppressed within deadZone of a divider on either side,
// where the inline divider itself is visible.
func FloatingDayLabel(dividers []DayDivider, viewportTop, deadZone int) string {
	if viewportTop <= 0 {
		return ""
	}
	label := ""
	for _, d := range dividers {
		diff := viewportTop - d.Offset
		if diff < 0 {
			if -diff < deadZone {
				return ""
			}
			break
		}
		if diff < deadZone {
			return ""
		}
		label = d.Label
	}
	return label
}
