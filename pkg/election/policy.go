package election

import "errors"

// DefaultMaxOpsBeforeReelection is the op-count budget after which the policy
// forces a fresh eligibility evaluation.
const DefaultMaxOpsBeforeReelection = 7000

// Policy layers threshold-driven reelection on top of an Engine. Once more
// than maxOps operations elapse since the baseline (the later of the last
// election and the last checkpoint acknowledgment), the policy forces a
// recompute that bypasses the no-preemption rule. Membership-driven
// recomputes via the Engine apply independently of the policy and of Enabled.
type Policy struct {
    engine       *Engine
    maxOps       uint64
    enabled      bool
    baseline     uint64
    onReconsider []func()
}

// NewPolicy wraps engine. maxOps must be positive; zero selects
// DefaultMaxOpsBeforeReelection.
func NewPolicy(engine *Engine, maxOps uint64, enabled bool) (*Policy, error) {
    if engine == nil {
        return nil, errors.New("election: nil engine")
    }
    if maxOps == 0 {
        maxOps = DefaultMaxOpsBeforeReelection
    }
    p := &Policy{engine: engine, maxOps: maxOps, enabled: enabled, baseline: engine.ElectionSequence()}
    // Every election, from whatever trigger, restarts the op-count budget.
    engine.OnElectedChanged(func(string, string) {
        if s := engine.ElectionSequence(); s > p.baseline {
            p.baseline = s
        }
    })
    return p, nil
}

// OnReconsidered registers fn to be invoked synchronously whenever a
// threshold-driven reelection evaluation ran, whether or not the elected id
// changed. Consumers use it to re-validate workers against the latest
// snapshot.
func (p *Policy) OnReconsidered(fn func()) { p.onReconsider = append(p.onReconsider, fn) }

// Enabled reports whether threshold-driven reelection is active.
func (p *Policy) Enabled() bool { return p.enabled }

// SetEnabled administratively enables or disables threshold-driven
// reelection. Disabling takes effect immediately; membership-driven
// recomputes are unaffected.
func (p *Policy) SetEnabled(v bool) { p.enabled = v }

// Baseline returns the sequence the op-count threshold is measured against.
func (p *Policy) Baseline() uint64 { return p.baseline }

// OpSequenceAdvanced applies an op-sequence advance. When enabled and the
// threshold is exceeded it forces a reelection at seq and resets the
// baseline.
func (p *Policy) OpSequenceAdvanced(seq uint64) {
    if !p.enabled {
        return
    }
    if seq-p.baseline <= p.maxOps {
        return
    }
    p.engine.ForceRecompute(seq)
    p.baseline = seq
    for _, fn := range p.onReconsider {
        fn()
    }
}

// CheckpointAcknowledged records that a prior summary was durably accepted at
// seq. It only postpones the next threshold-driven reelection; the elected id
// is untouched and no recompute runs.
func (p *Policy) CheckpointAcknowledged(seq uint64) {
    if seq > p.baseline {
        p.baseline = seq
    }
}
