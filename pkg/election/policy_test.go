package election

import (
    "testing"

    "github.com/blindperson/scribe/pkg/membership"
)

func policyFixture(t *testing.T, maxOps uint64, enabled bool) (*membership.Tracker, *Engine, *Policy) {
    t.Helper()
    tr := seedTracker(t)
    e := NewEngine(tr, interactive, nil, func() uint64 { return 0 })
    p, err := NewPolicy(e, maxOps, enabled)
    if err != nil {
        t.Fatalf("new policy: %v", err)
    }
    return tr, e, p
}

// Reference scenario: incumbent b elected at 4800, maxOps 1000. 5800 is within
// budget; 5801 exceeds it and reelects the earliest eligible member.
func TestPolicy_ThresholdReelection(t *testing.T) {
    tr, e, p := policyFixture(t, 1000, true)

    // Force b in as incumbent at 4800.
    tr.Remove("a")
    e.Recompute(4800)
    if got := e.ElectedBaseID(); got != "b" {
        t.Fatalf("elected base = %q, want b", got)
    }
    _ = tr.Add("a", 2, membership.Attributes{Interactive: true})

    var reconsidered int
    p.OnReconsidered(func() { reconsidered++ })

    p.OpSequenceAdvanced(5800)
    if got := e.ElectedBaseID(); got != "b" {
        t.Fatalf("reelected too early: %q", got)
    }
    if reconsidered != 0 {
        t.Fatalf("reconsideration fired too early")
    }

    p.OpSequenceAdvanced(5801)
    if got := e.ElectedBaseID(); got != "a" {
        t.Fatalf("elected base = %q, want a", got)
    }
    if got := e.ElectionSequence(); got != 5801 {
        t.Fatalf("election sequence = %d, want 5801", got)
    }
    if reconsidered != 1 {
        t.Fatalf("reconsidered = %d, want 1", reconsidered)
    }
    if got := p.Baseline(); got != 5801 {
        t.Fatalf("baseline = %d, want 5801", got)
    }
}

// Reconsideration fires even when the winner is unchanged, and the sequence
// is refreshed.
func TestPolicy_ReconsiderationWithoutChange(t *testing.T) {
    _, e, p := policyFixture(t, 1000, true)
    e.Recompute(100)
    if got := e.ElectedBaseID(); got != "a" {
        t.Fatalf("elected base = %q, want a", got)
    }

    var reconsidered int
    var changes int
    p.OnReconsidered(func() { reconsidered++ })
    e.OnElectedChanged(func(string, string) { changes++ })

    p.OpSequenceAdvanced(1101)
    if reconsidered != 1 || changes != 0 {
        t.Fatalf("reconsidered = %d changes = %d", reconsidered, changes)
    }
    if got := e.ElectedBaseID(); got != "a" {
        t.Fatalf("elected base = %q, want a", got)
    }
    if got := e.ElectionSequence(); got != 1101 {
        t.Fatalf("election sequence = %d, want 1101", got)
    }
}

// With the policy disabled no sequence gap changes the election; membership
// changes still do.
func TestPolicy_DisabledSuppressesThreshold(t *testing.T) {
    tr, e, p := policyFixture(t, 1000, false)
    e.Recompute(100)

    p.OpSequenceAdvanced(1_000_000)
    if got := e.ElectedBaseID(); got != "a" {
        t.Fatalf("elected base = %q, want a", got)
    }

    tr.Remove("a")
    if got := e.ElectedBaseID(); got != "b" {
        t.Fatalf("membership-driven reelection suppressed: %q", got)
    }
}

// An acknowledgment postpones the threshold: reelection fires relative to the
// ack sequence, not the last election.
func TestPolicy_AckResetsBaseline(t *testing.T) {
    _, e, p := policyFixture(t, 1000, true)
    e.Recompute(100)
    base := e.ElectedBaseID()

    p.CheckpointAcknowledged(900)
    if got := p.Baseline(); got != 900 {
        t.Fatalf("baseline = %d, want 900", got)
    }

    // 1101 - 100 > 1000 but 1101 - 900 <= 1000: no reelection yet.
    p.OpSequenceAdvanced(1101)
    if got := e.ElectionSequence(); got != 100 {
        t.Fatalf("election sequence = %d, want 100", got)
    }
    if got := e.ElectedBaseID(); got != base {
        t.Fatalf("elected base changed to %q", got)
    }

    p.OpSequenceAdvanced(1901)
    if got := e.ElectionSequence(); got != 1901 {
        t.Fatalf("election sequence = %d, want 1901", got)
    }
}

// An ack older than the baseline never moves it backwards.
func TestPolicy_StaleAckIgnored(t *testing.T) {
    _, e, p := policyFixture(t, 1000, true)
    e.Recompute(500)
    p.CheckpointAcknowledged(200)
    if got := p.Baseline(); got != 500 {
        t.Fatalf("baseline = %d, want 500", got)
    }
}

func TestPolicy_SetEnabled(t *testing.T) {
    _, e, p := policyFixture(t, 1000, true)
    e.Recompute(100)

    p.SetEnabled(false)
    p.OpSequenceAdvanced(5000)
    if got := e.ElectionSequence(); got != 100 {
        t.Fatalf("election ran while disabled")
    }

    p.SetEnabled(true)
    p.OpSequenceAdvanced(5001)
    if got := e.ElectionSequence(); got != 5001 {
        t.Fatalf("election sequence = %d, want 5001", got)
    }
}
