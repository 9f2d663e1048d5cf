package summarizer

import (
    "errors"
    "time"

    "go.uber.org/zap"

    "github.com/blindperson/scribe/pkg/election"
    "github.com/blindperson/scribe/pkg/membership"
)

// InitialMember seeds the tracker before the persisted election snapshot is
// validated. Use it when the membership log is replayed from durable state so
// that snapshot correction sees the members that were present at shutdown.
type InitialMember struct {
    ID         string
    JoinSeq    uint64
    Attributes membership.Attributes
}

// Options configures a Coordinator.
type Options struct {
    // Factory produces summarization workers (required).
    Factory Factory

    // Eligible decides which members may be elected. Defaults to selecting
    // interactive sessions. Synthetic worker identities are excluded on top
    // of this predicate regardless of its value.
    Eligible election.Predicate

    // Restore is an optional persisted election snapshot.
    Restore *election.Snapshot

    // InitialMembers pre-populates the membership tracker, without emitting
    // added notifications, before Restore is validated.
    InitialMembers []InitialMember

    // MaxOpsBeforeReelection is the op-count budget after which the policy
    // forces a fresh eligibility evaluation. Zero selects
    // election.DefaultMaxOpsBeforeReelection.
    MaxOpsBeforeReelection uint64

    // ElectionDisabled suppresses threshold-driven reelection. Membership
    // driven recomputes still apply.
    ElectionDisabled bool

    // InitialDelay is waited before the very first worker start attempt in a
    // freshly connected session, unless OpsToBypassInitialDelay ops have
    // already been observed in that session.
    InitialDelay            time.Duration
    OpsToBypassInitialDelay uint64

    // Retry throttler parameters; zero values select the package defaults.
    ThrottleBase   time.Duration
    ThrottleMax    time.Duration
    ThrottleWindow time.Duration

    // Logger reports operational messages. Defaults to zap.NewNop().
    Logger *zap.Logger

    // OnError receives lifecycle errors (worker start failures, abnormal
    // worker terminations, internal-invariant violations) with enough context
    // attached to diagnose. Defaults to logging via Logger.
    OnError func(error)
}

// Validate performs a minimal validation of Options. It is safe to call
// before New.
func (o Options) Validate() error {
    if o.Factory == nil {
        return errors.New("summarizer: nil Factory")
    }
    return nil
}
