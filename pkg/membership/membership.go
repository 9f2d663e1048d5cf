package membership

import "errors"

var (
    ErrDuplicateMember = errors.New("membership: duplicate member id")
    ErrUnknownMember   = errors.New("membership: unknown member id")
)

// Attributes carries the caller-supplied properties of a member from which
// eligibility is derived. Interactive distinguishes end-user sessions from
// internal worker sessions. Meta can carry auxiliary data for consumers.
type Attributes struct {
    Interactive bool
    Meta        map[string]string
}

// Member is a participant in the collaborative session. JoinSeq is the
// sequence number of the ordered log at which the member joined; it is the
// primary ordering key. Two members never share a JoinSeq after tie-breaking
// by arrival order.
type Member struct {
    ID         string
    JoinSeq    uint64
    Attributes Attributes
}

// Tracker maintains the ordered set of currently joined members. It has no
// internal locking: all mutation is expected to happen on a single logical
// thread of control (the coordinator serializes events before they reach it).
type Tracker struct {
    members   []Member
    present   map[string]int // id -> index into members
    onAdded   []func(Member)
    onRemoved []func(Member)
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
    return &Tracker{present: make(map[string]int)}
}

// OnAdded registers fn to be invoked synchronously after a member is added.
func (t *Tracker) OnAdded(fn func(Member)) { t.onAdded = append(t.onAdded, fn) }

// OnRemoved registers fn to be invoked synchronously after a member is removed.
func (t *Tracker) OnRemoved(fn func(Member)) { t.onRemoved = append(t.onRemoved, fn) }

// Add inserts a member keyed by joinSeq, keeping the set ordered. Members
// sharing a joinSeq keep their arrival order. Returns ErrDuplicateMember when
// id is already present.
func (t *Tracker) Add(id string, joinSeq uint64, attrs Attributes) error {
    if id == "" {
        return errors.New("membership: empty member id")
    }
    if _, ok := t.present[id]; ok {
        return ErrDuplicateMember
    }
    m := Member{ID: id, JoinSeq: joinSeq, Attributes: attrs}
    // Insert after every member with JoinSeq <= joinSeq so ties resolve by
    // arrival order.
    i := len(t.members)
    for i > 0 && t.members[i-1].JoinSeq > joinSeq {
        i--
    }
    t.members = append(t.members, Member{})
    copy(t.members[i+1:], t.members[i:])
    t.members[i] = m
    t.reindex(i)
    for _, fn := range t.onAdded {
        fn(m)
    }
    return nil
}

// Remove deletes a member. It is a no-op returning false when the id is not
// present; callers that treat that as a fault can use ErrUnknownMember.
func (t *Tracker) Remove(id string) bool {
    i, ok := t.present[id]
    if !ok {
        return false
    }
    m := t.members[i]
    t.members = append(t.members[:i], t.members[i+1:]...)
    delete(t.present, id)
    t.reindex(i)
    for _, fn := range t.onRemoved {
        fn(m)
    }
    return true
}

// Get returns the member with the given id, if present.
func (t *Tracker) Get(id string) (Member, bool) {
    i, ok := t.present[id]
    if !ok {
        return Member{}, false
    }
    return t.members[i], true
}

// FirstMatching returns the member with the smallest JoinSeq among those
// satisfying pred. Deterministic: ties were already broken at insert time.
func (t *Tracker) FirstMatching(pred func(Member) bool) (Member, bool) {
    for _, m := range t.members {
        if pred(m) {
            return m, true
        }
    }
    return Member{}, false
}

// All returns the members ordered by JoinSeq ascending. The returned slice is
// a copy and safe to retain.
func (t *Tracker) All() []Member {
    out := make([]Member, len(t.members))
    copy(out, t.members)
    return out
}

// Len returns the number of currently joined members.
func (t *Tracker) Len() int { return len(t.members) }

func (t *Tracker) reindex(from int) {
    for i := from; i < len(t.members); i++ {
        t.present[t.members[i].ID] = i
    }
}
