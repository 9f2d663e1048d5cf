package summarizer

import "time"

// Throttle defaults, tuned for summarization worker restarts.
const (
    DefaultThrottleBase   = 20 * time.Millisecond
    DefaultThrottleMax    = 30 * time.Second
    DefaultThrottleWindow = 60 * time.Second
)

// Throttle computes exponential retry delays from the number of recent
// attempts. Attempts older than Window are forgotten, so a burst of failures
// long ago does not penalize a fresh start cycle. Not safe for concurrent
// use; the coordinator serializes access.
type Throttle struct {
    Base   time.Duration
    Max    time.Duration
    Window time.Duration

    now      func() time.Time
    attempts []time.Time
}

// NewThrottle builds a throttle; zero arguments select the defaults.
func NewThrottle(base, max, window time.Duration) *Throttle {
    if base <= 0 {
        base = DefaultThrottleBase
    }
    if max <= 0 {
        max = DefaultThrottleMax
    }
    if window <= 0 {
        window = DefaultThrottleWindow
    }
    return &Throttle{Base: base, Max: max, Window: window, now: time.Now}
}

// Delay records an attempt and returns how long to wait before it:
// min(Max, Base * 2^(n-1)) where n counts attempts within Window.
func (t *Throttle) Delay() time.Duration {
    now := t.now()
    cutoff := now.Add(-t.Window)
    kept := t.attempts[:0]
    for _, at := range t.attempts {
        if at.After(cutoff) {
            kept = append(kept, at)
        }
    }
    t.attempts = append(kept, now)

    d := t.Base
    for i := 1; i < len(t.attempts); i++ {
        d *= 2
        if d >= t.Max || d <= 0 {
            return t.Max
        }
    }
    if d > t.Max {
        return t.Max
    }
    return d
}

// Attempts returns how many attempts fall within the current window.
func (t *Throttle) Attempts() int { return len(t.attempts) }
