package summarizer

import (
    "fmt"
    "time"

    "go.uber.org/zap"

    obsmetrics "github.com/blindperson/scribe/pkg/observability/metrics"
    "github.com/blindperson/scribe/pkg/observability/tracing"
)

type managerState int

const (
    stateIdle managerState = iota
    stateStarting
    stateRunning
    stateStopping
)

func (s managerState) String() string {
    switch s {
    case stateIdle:
        return "idle"
    case stateStarting:
        return "starting"
    case stateRunning:
        return "running"
    case stateStopping:
        return "stopping"
    }
    return "unknown"
}

type stopTimer interface{ Stop() bool }

func realAfterFunc(d time.Duration, fn func()) stopTimer { return time.AfterFunc(d, fn) }

// manager ensures at most one worker generation is active and that a worker
// runs exactly while the local member is connected and owns the election.
// All methods are called with the coordinator mutex held; asynchronous
// completions (factory settlement, retry timer, worker termination) re-enter
// through the *Async entry points which acquire it. A completion tagged with
// a stale generation is discarded, never applied to state.
type manager struct {
    c *Coordinator

    state    managerState
    gen      uint64
    attempt  int
    worker   Worker
    timer    stopTimer
    throttle *Throttle
    delayed  bool // initial delay already considered for this session
    disposed bool

    afterFunc func(time.Duration, func()) stopTimer
}

func (m *manager) shouldRun() bool {
    return !m.disposed && m.c.connected && m.c.localID != "" &&
        m.c.engine.ElectedBaseID() == m.c.localID
}

// evaluate reconciles the state machine against current ownership. It is
// invoked after every event that can change connectivity or the election.
func (m *manager) evaluate() {
    if m.disposed {
        return
    }
    switch m.state {
    case stateIdle:
        if m.shouldRun() {
            m.beginStart()
        }
    case stateStarting:
        if !m.shouldRun() {
            m.abortStart()
        }
    case stateRunning:
        if !m.shouldRun() {
            m.beginStop(m.stopReason())
        }
    case stateStopping:
        // Draining; workerDoneAsync resumes the machine.
    }
}

func (m *manager) stopReason() string {
    switch {
    case m.disposed:
        return StopReasonDisposed
    case !m.c.connected:
        return StopReasonDisconnected
    default:
        return StopReasonHandover
    }
}

func (m *manager) beginStart() {
    m.state = stateStarting
    m.gen++
    m.attempt = 0
    gen := m.gen

    // First attempt of a fresh session waits out the initial delay unless the
    // session already carries a large backlog of ops.
    if !m.delayed && m.c.opts.InitialDelay > 0 && m.c.opsSinceConnect < m.c.opts.OpsToBypassInitialDelay {
        m.delayed = true
        m.c.log.Info("delaying first summarizer start",
            zap.Duration("delay", m.c.opts.InitialDelay),
            zap.Uint64("generation", gen))
        m.timer = m.afterFunc(m.c.opts.InitialDelay, func() { m.timerFiredAsync(gen) })
        return
    }
    m.delayed = true
    m.launch(gen)
}

// launch invokes the worker factory off the control flow. The settlement is
// tagged with gen so superseded attempts are dropped on arrival.
func (m *manager) launch(gen uint64) {
    m.attempt++
    attempt := m.attempt
    go func() {
        ctx, end := tracing.StartSpan(m.c.ctx, "summarizer.createWorker")
        w, err := m.c.opts.Factory.Create(ctx)
        end()
        m.factorySettledAsync(gen, attempt, w, err)
    }()
}

func (m *manager) factorySettledAsync(gen uint64, attempt int, w Worker, err error) {
    m.c.mu.Lock()
    defer m.c.mu.Unlock()

    if m.disposed || gen != m.gen {
        if w != nil {
            w.RequestStop(StopReasonSuperseded)
        }
        return
    }
    if m.state != stateStarting {
        m.c.reportError(fmt.Errorf("%w: factory settled while %s (gen %d)", ErrInvalidTransition, m.state, gen))
        return
    }

    if err != nil {
        obsmetrics.WorkerStarts.WithLabelValues("error").Inc()
        m.c.reportError(fmt.Errorf("%w (gen %d, attempt %d): %v", ErrWorkerStart, gen, attempt, err))
        if !m.shouldRun() {
            m.toIdle()
            return
        }
        delay := m.throttle.Delay()
        obsmetrics.WorkerRetries.Inc()
        m.c.log.Warn("summarizer start failed, retrying",
            zap.Uint64("generation", gen),
            zap.Int("attempt", attempt),
            zap.Duration("backoff", delay),
            zap.Error(err))
        m.c.eb.publish(Event{Type: EventWorkerRetry, At: time.Now(), Generation: gen, Attempt: attempt, Reason: err.Error()})
        m.timer = m.afterFunc(delay, func() { m.timerFiredAsync(gen) })
        return
    }

    if !m.shouldRun() {
        w.RequestStop(StopReasonSuperseded)
        m.toIdle()
        return
    }

    m.worker = w
    m.state = stateRunning
    base := m.c.engine.ElectedBaseID()
    derived := base + IdentitySuffix
    m.c.engine.RewriteElectedID(derived)
    obsmetrics.WorkerStarts.WithLabelValues("ok").Inc()
    obsmetrics.WorkerActive.Set(1)
    m.c.log.Info("summarizer running",
        zap.Uint64("generation", gen),
        zap.String("onBehalfOf", base),
        zap.String("identity", derived))
    m.c.eb.publish(Event{Type: EventWorkerStarted, At: time.Now(), Generation: gen, NewID: derived})
    go m.runWorker(gen, w, base)
}

func (m *manager) runWorker(gen uint64, w Worker, base string) {
    ctx, end := tracing.StartSpan(m.c.ctx, "summarizer.run")
    start := time.Now()
    reason, err := w.Run(ctx, base)
    end()
    obsmetrics.WorkerRunSeconds.Observe(time.Since(start).Seconds())
    m.workerDoneAsync(gen, reason, err)
}

func (m *manager) timerFiredAsync(gen uint64) {
    m.c.mu.Lock()
    defer m.c.mu.Unlock()

    if m.disposed || gen != m.gen {
        return
    }
    if m.state != stateStarting {
        m.c.reportError(fmt.Errorf("%w: timer fired while %s (gen %d)", ErrInvalidTransition, m.state, gen))
        return
    }
    m.timer = nil
    if !m.shouldRun() {
        m.toIdle()
        return
    }
    m.launch(gen)
}

func (m *manager) workerDoneAsync(gen uint64, reason string, err error) {
    m.c.mu.Lock()
    defer m.c.mu.Unlock()

    if m.disposed || gen != m.gen {
        return
    }
    if m.state != stateRunning && m.state != stateStopping {
        m.c.reportError(fmt.Errorf("%w: completion signal while %s (gen %d)", ErrInvalidTransition, m.state, gen))
        return
    }
    if err != nil {
        // An abnormal termination is still a completion signal; surface it
        // and re-evaluate like any other.
        m.c.reportError(fmt.Errorf("%w (gen %d, reason %q): %v", ErrWorkerRun, gen, reason, err))
    }

    // Revert the derived identity when it is still ours.
    if base := m.c.engine.ElectedBaseID(); base != "" && m.c.engine.ElectedID() == base+IdentitySuffix {
        m.c.engine.RewriteElectedID(base)
    }
    m.worker = nil
    m.toIdle()
    obsmetrics.WorkerActive.Set(0)
    m.c.log.Info("summarizer stopped", zap.Uint64("generation", gen), zap.String("reason", reason))
    m.c.eb.publish(Event{Type: EventWorkerStopped, At: time.Now(), Generation: gen, Reason: reason})

    // Only now is ownership re-evaluated; a still-owed worker goes straight
    // back to starting with a fresh generation.
    m.evaluate()
}

func (m *manager) beginStop(reason string) {
    m.state = stateStopping
    m.c.log.Info("requesting summarizer stop", zap.Uint64("generation", m.gen), zap.String("reason", reason))
    m.worker.RequestStop(reason)
}

// abortStart cancels an in-flight start attempt. Advancing the generation
// invalidates any pending factory settlement or timer.
func (m *manager) abortStart() {
    m.gen++
    m.toIdle()
}

func (m *manager) toIdle() {
    if m.timer != nil {
        m.timer.Stop()
        m.timer = nil
    }
    m.state = stateIdle
}

func (m *manager) dispose() {
    if m.disposed {
        return
    }
    m.disposed = true
    if m.timer != nil {
        m.timer.Stop()
        m.timer = nil
    }
    if m.worker != nil {
        m.worker.RequestStop(StopReasonDisposed)
    }
    m.gen++
    m.worker = nil
    m.state = stateIdle
}
