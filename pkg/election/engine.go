// Package election computes the deterministic summarizer election over an
// ordered membership log. Every member runs the same function over the same
// log, so all members agree on the elected member without message passing.
package election

import (
    "github.com/blindperson/scribe/pkg/membership"
)

// Predicate decides whether a member is eligible to be elected.
type Predicate func(membership.Member) bool

// Engine wraps a membership.Tracker with an eligibility predicate and holds
// the current election snapshot. Like the tracker it has no internal locking;
// the coordinator serializes all mutation.
type Engine struct {
    tracker   *membership.Tracker
    eligible  Predicate
    snap      Snapshot
    onChanged []func(old, new string)
}

// NewEngine builds an engine over tracker. persisted, when non-nil, seeds the
// snapshot. seqFn reports the current sequence of the ordered log and is
// consulted for recomputes triggered by membership notifications.
//
// A persisted ElectedBaseID that refers to an absent or ineligible member is
// corrected synchronously here, at the persisted election sequence, before any
// event is observed. A persisted (or missing) base of "" is deliberately NOT
// resolved eagerly: the first election then happens on the next membership or
// recompute trigger. Callers depend on this asymmetry; do not collapse the
// two cases.
func NewEngine(tracker *membership.Tracker, eligible Predicate, persisted *Snapshot, seqFn func() uint64) *Engine {
    e := &Engine{tracker: tracker, eligible: eligible}
    if persisted != nil {
        e.snap = *persisted
        // A derived worker identity never survives a restart; key back off
        // the base member.
        if e.snap.ElectedBaseID == "" {
            e.snap.ElectedID = ""
        } else if e.snap.ElectedID != e.snap.ElectedBaseID {
            e.snap.ElectedID = e.snap.ElectedBaseID
        }
        if e.snap.ElectedBaseID != "" && !e.baseValid() {
            e.correctPersistedBase()
        }
    }
    tracker.OnAdded(func(membership.Member) { e.recompute(seqFn(), false) })
    // No-preemption makes this a no-op unless the removed member was the
    // incumbent (or no valid incumbent existed).
    tracker.OnRemoved(func(membership.Member) { e.recompute(seqFn(), false) })
    return e
}

// OnElectedChanged registers fn to be invoked synchronously whenever the
// externally visible elected identity transitions, with the old and new ids
// ("" meaning none).
func (e *Engine) OnElectedChanged(fn func(old, new string)) {
    e.onChanged = append(e.onChanged, fn)
}

// ElectedID returns the externally visible elected identity, or "".
func (e *Engine) ElectedID() string { return e.snap.ElectedID }

// ElectedBaseID returns the underlying elected member id, or "".
func (e *Engine) ElectedBaseID() string { return e.snap.ElectedBaseID }

// ElectionSequence returns the sequence at which the election was last
// established or refreshed.
func (e *Engine) ElectionSequence() uint64 { return e.snap.ElectionSequence }

// Serialize returns a copy of the current snapshot for persistence.
func (e *Engine) Serialize() Snapshot { return e.snap }

// Recompute re-evaluates the election at seq. An incumbent that is still
// present and eligible is never preempted, regardless of whether an
// earlier-joining eligible member now exists. Returns true when the elected
// base id changed.
func (e *Engine) Recompute(seq uint64) bool { return e.recompute(seq, false) }

// ForceRecompute drops the incumbent and elects the earliest eligible member
// at seq (which may re-select the same incumbent). The election sequence is
// refreshed even when the id is unchanged.
func (e *Engine) ForceRecompute(seq uint64) bool { return e.recompute(seq, true) }

// RewriteElectedID replaces the externally visible identity while the elected
// base member is unchanged. The lifecycle manager uses this to expose the
// derived worker identity ("base/worker") while a worker runs on the base
// member's behalf, and to revert it afterwards.
func (e *Engine) RewriteElectedID(id string) {
    if e.snap.ElectedBaseID == "" || id == e.snap.ElectedID {
        return
    }
    old := e.snap.ElectedID
    e.snap.ElectedID = id
    e.notify(old, id)
}

// correctPersistedBase replaces an invalid persisted base with the first
// eligible member positioned after it in join order, not the earliest
// overall; the invalid member keeps its place in the rotation. A base that is
// no longer present at all falls back to the earliest eligible member. The
// election sequence is left untouched; no op has advanced yet.
func (e *Engine) correctPersistedBase() {
    all := e.tracker.All()
    start := 0
    for i, m := range all {
        if m.ID == e.snap.ElectedBaseID {
            start = i + 1
            break
        }
    }
    var id string
    for _, m := range all[start:] {
        if e.eligible(m) {
            id = m.ID
            break
        }
    }
    old := e.snap.ElectedID
    e.snap.ElectedID = id
    e.snap.ElectedBaseID = id
    if id != old {
        e.notify(old, id)
    }
}

func (e *Engine) recompute(seq uint64, force bool) bool {
    if !force && e.baseValid() {
        return false
    }
    var id string
    if m, ok := e.tracker.FirstMatching(func(m membership.Member) bool { return e.eligible(m) }); ok {
        id = m.ID
    }
    if id == e.snap.ElectedBaseID {
        if force && seq > e.snap.ElectionSequence {
            e.snap.ElectionSequence = seq
        }
        return false
    }
    old := e.snap.ElectedID
    e.snap.ElectedID = id
    e.snap.ElectedBaseID = id
    if seq > e.snap.ElectionSequence {
        e.snap.ElectionSequence = seq
    }
    e.notify(old, id)
    return true
}

func (e *Engine) baseValid() bool {
    if e.snap.ElectedBaseID == "" {
        return false
    }
    m, ok := e.tracker.Get(e.snap.ElectedBaseID)
    return ok && e.eligible(m)
}

func (e *Engine) notify(old, new string) {
    for _, fn := range e.onChanged {
        fn(old, new)
    }
}
