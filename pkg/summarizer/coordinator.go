// Package summarizer coordinates which member of a collaborative session is
// responsible for producing periodic summaries of shared state, and manages
// the worker process that performs them. Agreement needs no message passing:
// every member computes the same deterministic election over the same ordered
// membership log.
package summarizer

import (
    "context"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/blindperson/scribe/pkg/election"
    "github.com/blindperson/scribe/pkg/membership"
    obsmetrics "github.com/blindperson/scribe/pkg/observability/metrics"
)

// Coordinator is the single entry point of the package. It owns the mutex
// that serializes every membership, op-stream, session and worker-lifecycle
// event onto one logical thread of control; the tracker, engine and policy
// beneath it are plain synchronous types.
type Coordinator struct {
    mu   sync.Mutex
    opts Options
    log  *zap.Logger

    tracker *membership.Tracker
    engine  *election.Engine
    policy  *election.Policy
    mgr     manager
    eb      eventBus

    ctx    context.Context
    cancel context.CancelFunc

    seq             uint64 // last observed sequence of the ordered log
    connected       bool
    localID         string
    opsSinceConnect uint64
    closed          bool
}

// New assembles a coordinator from validated options. It performs no
// asynchronous activity until an event arrives.
func New(opts Options) (*Coordinator, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    if opts.Logger == nil {
        opts.Logger = zap.NewNop()
    }
    eligible := opts.Eligible
    if eligible == nil {
        eligible = func(m membership.Member) bool { return m.Attributes.Interactive }
    }
    obsmetrics.Register()

    c := &Coordinator{opts: opts, log: opts.Logger, tracker: membership.NewTracker()}
    c.ctx, c.cancel = context.WithCancel(context.Background())

    for _, im := range opts.InitialMembers {
        if err := c.tracker.Add(im.ID, im.JoinSeq, im.Attributes); err != nil {
            return nil, err
        }
    }

    // Synthetic worker identities are never electable, whatever the
    // caller-supplied predicate says.
    pred := func(m membership.Member) bool {
        return !strings.HasSuffix(m.ID, IdentitySuffix) && eligible(m)
    }
    c.engine = election.NewEngine(c.tracker, pred, opts.Restore, func() uint64 { return c.seq })

    policy, err := election.NewPolicy(c.engine, opts.MaxOpsBeforeReelection, !opts.ElectionDisabled)
    if err != nil {
        return nil, err
    }
    c.policy = policy

    c.engine.OnElectedChanged(func(old, new string) {
        obsmetrics.ElectedChanges.Inc()
        c.updateElectedGauge()
        c.log.Info("elected identity changed", zap.String("old", old), zap.String("new", new))
        c.eb.publish(Event{Type: EventElectedChanged, At: time.Now(), OldID: old, NewID: new})
    })
    c.policy.OnReconsidered(func() {
        obsmetrics.ReelectionEvals.Inc()
        c.eb.publish(Event{Type: EventReconsidered, At: time.Now()})
    })

    c.mgr = manager{
        c:         c,
        throttle:  NewThrottle(opts.ThrottleBase, opts.ThrottleMax, opts.ThrottleWindow),
        afterFunc: realAfterFunc,
    }
    return c, nil
}

// OnMemberAdded applies a join from the membership source. joinSeq is the
// sequence of the ordered log at which the member joined; it also advances
// the coordinator's view of the current sequence.
func (c *Coordinator) OnMemberAdded(id string, joinSeq uint64, attrs membership.Attributes) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return ErrDisposed
    }
    if joinSeq > c.seq {
        c.seq = joinSeq
    }
    if err := c.tracker.Add(id, joinSeq, attrs); err != nil {
        return err
    }
    obsmetrics.Members.Set(float64(c.tracker.Len()))
    c.mgr.evaluate()
    return nil
}

// OnMemberRemoved applies a departure. Removal of the incumbent reelects
// immediately, within this call, before any threshold evaluation can run.
func (c *Coordinator) OnMemberRemoved(id string) bool {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return false
    }
    removed := c.tracker.Remove(id)
    if removed {
        obsmetrics.Members.Set(float64(c.tracker.Len()))
    }
    c.mgr.evaluate()
    return removed
}

// OnOpSequenceAdvanced applies an op-stream advance. Events must arrive in
// order; out-of-order delivery is the caller's bug and is ignored here only
// to the extent that the sequence never moves backwards.
func (c *Coordinator) OnOpSequenceAdvanced(seq uint64) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return
    }
    if seq > c.seq {
        c.seq = seq
    }
    c.opsSinceConnect++
    c.policy.OpSequenceAdvanced(c.seq)
    c.mgr.evaluate()
}

// OnCheckpointAcknowledged records that a summary up to seq was durably
// accepted. It only postpones the next threshold-driven reelection.
func (c *Coordinator) OnCheckpointAcknowledged(seq uint64) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return
    }
    if seq > c.seq {
        c.seq = seq
    }
    c.policy.CheckpointAcknowledged(seq)
}

// OnConnected reports that the transport session is up and the local member
// is known as localID. A reconnect may carry a different local id.
func (c *Coordinator) OnConnected(localID string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return
    }
    c.connected = true
    c.localID = localID
    c.opsSinceConnect = 0
    c.mgr.delayed = false
    c.log.Info("session connected", zap.String("localId", localID))
    c.updateElectedGauge()
    c.mgr.evaluate()
}

// OnDisconnected reports that the transport session is down. A worker run in
// flight drains gracefully; the elected identity is untouched until its
// completion signal resolves.
func (c *Coordinator) OnDisconnected() {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return
    }
    c.connected = false
    c.log.Info("session disconnected", zap.String("localId", c.localID))
    c.updateElectedGauge()
    c.mgr.evaluate()
}

// ElectedIdentity returns the externally visible elected identity, or "".
func (c *Coordinator) ElectedIdentity() string {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.engine.ElectedID()
}

// ElectedBaseIdentity returns the underlying elected member id, or "".
func (c *Coordinator) ElectedBaseIdentity() string {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.engine.ElectedBaseID()
}

// CurrentSequence returns the last observed sequence of the ordered log.
func (c *Coordinator) CurrentSequence() uint64 {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.seq
}

// Serialize returns the election snapshot for persistence across restarts.
func (c *Coordinator) Serialize() election.Snapshot {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.engine.Serialize()
}

// SetElectionEnabled toggles threshold-driven reelection at runtime.
func (c *Coordinator) SetElectionEnabled(v bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return
    }
    c.policy.SetEnabled(v)
    c.mgr.evaluate()
}

// Close disposes the coordinator. A running worker is asked to stop; its
// eventual completion is discarded. No transitions fire after Close.
func (c *Coordinator) Close() error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed {
        return nil
    }
    c.closed = true
    c.mgr.dispose()
    c.cancel()
    return nil
}

func (c *Coordinator) updateElectedGauge() {
    if c.connected && c.localID != "" && c.engine.ElectedBaseID() == c.localID {
        obsmetrics.IsElected.Set(1)
    } else {
        obsmetrics.IsElected.Set(0)
    }
}

// reportError surfaces a lifecycle error to the telemetry collaborator. The
// callback runs on the coordinator's control flow and must not call back in.
func (c *Coordinator) reportError(err error) {
    if c.opts.OnError != nil {
        c.opts.OnError(err)
        return
    }
    c.log.Error("summarizer lifecycle error", zap.Error(err))
}
