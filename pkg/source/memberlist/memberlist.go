// Package mlsource feeds a summarizer coordinator from HashiCorp memberlist
// gossip. Join sequences are assigned from a local monotonic counter in
// gossip-observation order, so two processes do not necessarily agree on
// them; embed this source when one process hosts the coordinator (demos,
// single-writer tooling). Deployments that need cross-member agreement must
// feed the coordinator from a shared ordered log instead.
package mlsource

import (
    "context"
    "encoding/json"
    "fmt"
    "net"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"
    "go.uber.org/zap"

    "github.com/blindperson/scribe/pkg/membership"
)

// Sink receives serialized membership events. *summarizer.Coordinator
// satisfies it.
type Sink interface {
    OnMemberAdded(id string, joinSeq uint64, attrs membership.Attributes) error
    OnMemberRemoved(id string) bool
}

// Options configures the gossip source.
type Options struct {
    // NodeID is the unique node identifier (memberlist node name).
    NodeID string

    // Bind is the bind address in host:port form (e.g. ":7946").
    Bind string

    // Advertise is the advertised host:port peers use to reach this node.
    // If empty, memberlist derives it from Bind.
    Advertise string

    // Interactive marks this node as an end-user session for eligibility.
    Interactive bool

    // Meta is optional metadata gossiped with the node.
    Meta map[string]string

    // Logger is optional. If nil, zap.NewNop() is used.
    Logger *zap.Logger

    // Tuning parameters (optional). Zero means use defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

// nodeMeta is the payload gossiped via the memberlist node delegate.
type nodeMeta struct {
    Interactive bool              `json:"interactive"`
    Meta        map[string]string `json:"meta,omitempty"`
}

// Source translates memberlist join/leave notifications into ordered
// membership events on a Sink.
type Source struct {
    mu     sync.Mutex
    opts   Options
    sink   Sink
    log    *zap.Logger
    ml     *memberlist.Memberlist
    seq    uint64
    closed bool
}

// New constructs a gossip source delivering into sink.
func New(opts Options, sink Sink) (*Source, error) {
    if opts.NodeID == "" {
        return nil, fmt.Errorf("mlsource: empty NodeID")
    }
    if opts.Bind == "" {
        return nil, fmt.Errorf("mlsource: empty Bind address")
    }
    if sink == nil {
        return nil, fmt.Errorf("mlsource: nil Sink")
    }
    if opts.Logger == nil {
        opts.Logger = zap.NewNop()
    }
    return &Source{opts: opts, sink: sink, log: opts.Logger}, nil
}

// Start creates and launches the underlying memberlist instance. The local
// node's own join is delivered like any other.
func (s *Source) Start(ctx context.Context) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ml != nil {
        return nil
    }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = s.opts.NodeID
    host, portStr, err := net.SplitHostPort(s.opts.Bind)
    if err != nil {
        return fmt.Errorf("mlsource: invalid bind address %q: %w", s.opts.Bind, err)
    }
    port, err := parsePort(portStr)
    if err != nil {
        return err
    }
    cfg.BindAddr = host
    cfg.BindPort = port

    if s.opts.Advertise != "" {
        ahost, aportStr, err := net.SplitHostPort(s.opts.Advertise)
        if err != nil {
            return fmt.Errorf("mlsource: invalid advertise address %q: %w", s.opts.Advertise, err)
        }
        aport, err := parsePort(aportStr)
        if err != nil {
            return err
        }
        cfg.AdvertiseAddr = ahost
        cfg.AdvertisePort = aport
    }

    if s.opts.ProbeInterval > 0 {
        cfg.ProbeInterval = s.opts.ProbeInterval
    }
    if s.opts.ProbeTimeout > 0 {
        cfg.ProbeTimeout = s.opts.ProbeTimeout
    }
    if s.opts.SuspicionMult > 0 {
        cfg.SuspicionMult = s.opts.SuspicionMult
    }

    metaBytes, _ := json.Marshal(nodeMeta{Interactive: s.opts.Interactive, Meta: s.opts.Meta})
    cfg.Events = &eventDelegate{src: s}
    cfg.Delegate = &nodeDelegate{meta: metaBytes}

    ml, err := memberlist.Create(cfg)
    if err != nil {
        return err
    }
    s.ml = ml

    go func() {
        <-ctx.Done()
        _ = s.Stop()
    }()
    return nil
}

// Join contacts the given seed addresses to merge gossip state.
func (s *Source) Join(seeds []string) error {
    s.mu.Lock()
    ml := s.ml
    s.mu.Unlock()
    if ml == nil {
        return fmt.Errorf("mlsource: not started")
    }
    if len(seeds) == 0 {
        return nil
    }
    _, err := ml.Join(seeds)
    return err
}

// Stop leaves the gossip pool and shuts the instance down.
func (s *Source) Stop() error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.closed {
        return nil
    }
    s.closed = true
    if s.ml != nil {
        _ = s.ml.Leave(time.Second)
        _ = s.ml.Shutdown()
        s.ml = nil
    }
    return nil
}

// notifyJoin and notifyLeave run on memberlist goroutines; the source mutex
// keeps deliveries serialized and the local sequence monotonic.
func (s *Source) notifyJoin(n *memberlist.Node) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.closed {
        return
    }
    s.seq++
    attrs := decodeAttrs(n.Meta)
    if err := s.sink.OnMemberAdded(n.Name, s.seq, attrs); err != nil {
        s.log.Warn("member add rejected", zap.String("id", n.Name), zap.Error(err))
    }
}

func (s *Source) notifyLeave(n *memberlist.Node) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.closed {
        return
    }
    s.sink.OnMemberRemoved(n.Name)
}

func decodeAttrs(meta []byte) membership.Attributes {
    var nm nodeMeta
    if len(meta) > 0 {
        _ = json.Unmarshal(meta, &nm)
    }
    return membership.Attributes{Interactive: nm.Interactive, Meta: nm.Meta}
}

func parsePort(s string) (int, error) {
    var p int
    if _, err := fmt.Sscanf(s, "%d", &p); err != nil || p < 0 || p > 65535 {
        return 0, fmt.Errorf("mlsource: invalid port %q", s)
    }
    return p, nil
}

// eventDelegate adapts memberlist events to sink deliveries.
type eventDelegate struct {
    src *Source
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) {
    if d.src == nil || n == nil {
        return
    }
    d.src.notifyJoin(n)
}

func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
    if d.src == nil || n == nil {
        return
    }
    // memberlist conflates explicit leave and failure/timeouts; both mean the
    // member is gone from the session.
    d.src.notifyLeave(n)
}

func (d *eventDelegate) NotifyUpdate(*memberlist.Node) {
    // Attribute updates do not reorder the membership log.
}

// nodeDelegate gossips static node metadata.
type nodeDelegate struct {
    meta []byte
}

func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) > limit {
        return d.meta[:limit]
    }
    return d.meta
}

func (d *nodeDelegate) NotifyMsg([]byte)                {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte { return nil }
func (d *nodeDelegate) LocalState(bool) []byte          { return nil }
func (d *nodeDelegate) MergeRemoteState([]byte, bool)   {}
