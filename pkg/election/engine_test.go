package election

import (
    "testing"

    "github.com/blindperson/scribe/pkg/membership"
)

func interactive(m membership.Member) bool { return m.Attributes.Interactive }

func seedTracker(t *testing.T) *membership.Tracker {
    t.Helper()
    tr := membership.NewTracker()
    add := func(id string, seq uint64, inter bool) {
        if err := tr.Add(id, seq, membership.Attributes{Interactive: inter}); err != nil {
            t.Fatalf("add %s: %v", id, err)
        }
    }
    add("s1", 1, false)
    add("a", 2, true)
    add("s2", 4, false)
    add("b", 7, true)
    return tr
}

// A persisted base pointing at a present-but-ineligible member is corrected
// synchronously at construction, at the persisted election sequence, to the
// first eligible member after the invalid base's join position — not to the
// earliest eligible member overall.
func TestEngine_ConstructionCorrectsInvalidBase(t *testing.T) {
    tr := seedTracker(t)
    snap := &Snapshot{ElectedID: "s2", ElectedBaseID: "s2", ElectionSequence: 432}
    e := NewEngine(tr, interactive, snap, func() uint64 { return 0 })

    if got := e.ElectedBaseID(); got != "b" {
        t.Fatalf("elected base = %q, want b", got)
    }
    if got := e.ElectionSequence(); got != 432 {
        t.Fatalf("election sequence = %d, want 432", got)
    }
}

// When no eligible member follows the invalid base in join order, correction
// elects none; the next trigger resolves it like any other none base.
func TestEngine_ConstructionCorrectionWithNoLaterEligible(t *testing.T) {
    tr := membership.NewTracker()
    _ = tr.Add("a", 2, membership.Attributes{Interactive: true})
    _ = tr.Add("s2", 4, membership.Attributes{})
    snap := &Snapshot{ElectedID: "s2", ElectedBaseID: "s2", ElectionSequence: 432}
    seq := uint64(432)
    e := NewEngine(tr, interactive, snap, func() uint64 { return seq })

    if got := e.ElectedBaseID(); got != "" {
        t.Fatalf("elected base = %q, want none", got)
    }

    seq = 440
    _ = tr.Add("c", 440, membership.Attributes{Interactive: true})
    if got := e.ElectedBaseID(); got != "a" {
        t.Fatalf("elected base = %q, want a", got)
    }
}

// The reference scenario pins the earliest eligible member after correction.
func TestEngine_ConstructionCorrectsAbsentBase(t *testing.T) {
    tr := membership.NewTracker()
    _ = tr.Add("s1", 1, membership.Attributes{})
    _ = tr.Add("b", 7, membership.Attributes{Interactive: true})
    snap := &Snapshot{ElectedID: "gone", ElectedBaseID: "gone", ElectionSequence: 432}
    e := NewEngine(tr, interactive, snap, func() uint64 { return 0 })

    if got := e.ElectedBaseID(); got != "b" {
        t.Fatalf("elected base = %q, want b", got)
    }
    if got := e.ElectionSequence(); got != 432 {
        t.Fatalf("election sequence = %d, want 432", got)
    }
}

// A none base is resolved lazily, never at construction.
func TestEngine_ConstructionDefersNoneBase(t *testing.T) {
    tr := seedTracker(t)
    snap := &Snapshot{ElectionSequence: 432}
    e := NewEngine(tr, interactive, snap, func() uint64 { return 432 })

    if got := e.ElectedBaseID(); got != "" {
        t.Fatalf("elected base = %q, want none", got)
    }
    // The next trigger resolves it.
    if !e.Recompute(440) {
        t.Fatalf("recompute did not adopt a member")
    }
    if got := e.ElectedBaseID(); got != "a" {
        t.Fatalf("elected base = %q, want a", got)
    }
    if got := e.ElectionSequence(); got != 440 {
        t.Fatalf("election sequence = %d, want 440", got)
    }
}

func TestEngine_EmptyMembershipStaysNone(t *testing.T) {
    tr := membership.NewTracker()
    snap := &Snapshot{ElectionSequence: 432}
    e := NewEngine(tr, interactive, snap, func() uint64 { return 432 })

    e.Recompute(500)
    e.ForceRecompute(600)
    if got := e.ElectedBaseID(); got != "" {
        t.Fatalf("elected base = %q, want none", got)
    }
}

// While the incumbent remains present and eligible, earlier-joining eligible
// members never preempt it.
func TestEngine_NoPreemption(t *testing.T) {
    tr := membership.NewTracker()
    seq := uint64(0)
    e := NewEngine(tr, interactive, nil, func() uint64 { return seq })

    seq = 7
    _ = tr.Add("b", 7, membership.Attributes{Interactive: true})
    if got := e.ElectedBaseID(); got != "b" {
        t.Fatalf("elected base = %q, want b", got)
    }

    seq = 9
    _ = tr.Add("a", 2, membership.Attributes{Interactive: true})
    if got := e.ElectedBaseID(); got != "b" {
        t.Fatalf("incumbent preempted by earlier member: %q", got)
    }

    // A forced recompute does drop the incumbent.
    if !e.ForceRecompute(10) {
        t.Fatalf("force recompute reported no change")
    }
    if got := e.ElectedBaseID(); got != "a" {
        t.Fatalf("elected base = %q, want a", got)
    }
}

// Removing the incumbent reelects within the same event tick.
func TestEngine_RemovalForcesImmediateReelection(t *testing.T) {
    tr := seedTracker(t)
    seq := uint64(7)
    e := NewEngine(tr, interactive, nil, func() uint64 { return seq })
    e.Recompute(seq)
    if got := e.ElectedBaseID(); got != "a" {
        t.Fatalf("elected base = %q, want a", got)
    }

    var transitions [][2]string
    e.OnElectedChanged(func(old, new string) { transitions = append(transitions, [2]string{old, new}) })

    seq = 12
    tr.Remove("a")
    if got := e.ElectedBaseID(); got != "b" {
        t.Fatalf("elected base = %q, want b", got)
    }
    if got := e.ElectionSequence(); got != 12 {
        t.Fatalf("election sequence = %d, want 12", got)
    }
    if len(transitions) != 1 || transitions[0] != [2]string{"a", "b"} {
        t.Fatalf("transitions = %v", transitions)
    }

    // Removing both eligible members elects none.
    seq = 15
    tr.Remove("b")
    if got := e.ElectedBaseID(); got != "" {
        t.Fatalf("elected base = %q, want none", got)
    }
}

// Removing a non-incumbent does not disturb the election.
func TestEngine_RemovalOfBystanderIsIgnored(t *testing.T) {
    tr := seedTracker(t)
    seq := uint64(7)
    e := NewEngine(tr, interactive, nil, func() uint64 { return seq })
    e.Recompute(seq)

    seq = 20
    tr.Remove("s2")
    if got := e.ElectedBaseID(); got != "a" {
        t.Fatalf("elected base = %q, want a", got)
    }
    if got := e.ElectionSequence(); got != 7 {
        t.Fatalf("election sequence = %d, want 7", got)
    }
}

func TestEngine_RewriteElectedID(t *testing.T) {
    tr := seedTracker(t)
    e := NewEngine(tr, interactive, nil, func() uint64 { return 7 })
    e.Recompute(7)

    var old, new string
    e.OnElectedChanged(func(o, n string) { old, new = o, n })

    e.RewriteElectedID("a/worker")
    if e.ElectedID() != "a/worker" || e.ElectedBaseID() != "a" {
        t.Fatalf("elected = %q base = %q", e.ElectedID(), e.ElectedBaseID())
    }
    if old != "a" || new != "a/worker" {
        t.Fatalf("notification = %q -> %q", old, new)
    }

    // Ordering keeps keying off the base: no preemption while the derived
    // identity is exposed.
    e.Recompute(9)
    if e.ElectedID() != "a/worker" {
        t.Fatalf("recompute clobbered derived identity: %q", e.ElectedID())
    }
}

// A persisted derived identity is normalized back to the base on restore.
func TestEngine_RestoreNormalizesDerivedIdentity(t *testing.T) {
    tr := seedTracker(t)
    snap := &Snapshot{ElectedID: "a/worker", ElectedBaseID: "a", ElectionSequence: 100}
    e := NewEngine(tr, interactive, snap, func() uint64 { return 100 })
    if e.ElectedID() != "a" {
        t.Fatalf("elected = %q, want a", e.ElectedID())
    }
}

// A persisted visible identity with no base behind it is cleared on restore;
// the none base stays deferred.
func TestEngine_RestoreClearsOrphanedElectedID(t *testing.T) {
    tr := membership.NewTracker()
    snap := &Snapshot{ElectedID: "ghost/worker", ElectionSequence: 100}
    e := NewEngine(tr, interactive, snap, func() uint64 { return 100 })
    if e.ElectedID() != "" || e.ElectedBaseID() != "" {
        t.Fatalf("elected = %q base = %q, want none", e.ElectedID(), e.ElectedBaseID())
    }
    if got := e.ElectionSequence(); got != 100 {
        t.Fatalf("election sequence = %d, want 100", got)
    }
}

func TestSnapshot_RoundTrip(t *testing.T) {
    in := Snapshot{ElectedID: "a/worker", ElectedBaseID: "a", ElectionSequence: 4321}
    buf, err := in.Encode()
    if err != nil {
        t.Fatalf("encode: %v", err)
    }
    out, err := DecodeSnapshot(buf)
    if err != nil {
        t.Fatalf("decode: %v", err)
    }
    if out != in {
        t.Fatalf("round-trip mismatch: got %+v want %+v", out, in)
    }
}
