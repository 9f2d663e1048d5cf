// Package bootstrap assembles a runnable summarizer node from a small YAML
// configuration: a gossip membership source feeding a coordinator, with the
// election snapshot persisted across restarts.
package bootstrap

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    "go.uber.org/zap"
    "gopkg.in/yaml.v3"

    "github.com/blindperson/scribe/pkg/election"
    mlsource "github.com/blindperson/scribe/pkg/source/memberlist"
    "github.com/blindperson/scribe/pkg/summarizer"
)

// Config defines high-level inputs to assemble a node with sensible defaults.
// Applications embed the coordinator by providing this structure and calling
// Build.
type Config struct {
    // NodeID is the unique member identifier. Required.
    NodeID string `yaml:"nodeId"`

    // Interactive marks this node as an end-user session; only interactive
    // members are electable under the default predicate.
    Interactive bool `yaml:"interactive"`

    Gossip   GossipConfig   `yaml:"gossip"`
    Election ElectionConfig `yaml:"election"`
    Worker   WorkerConfig   `yaml:"worker"`

    // SnapshotPath, when set, persists the election snapshot on Close and
    // restores it on Build. Empty means in-memory only.
    SnapshotPath string `yaml:"snapshotPath"`

    // MetricsAddr is the host:port a Prometheus endpoint should listen on.
    // Consumed by the CLI; Build itself opens no listeners.
    MetricsAddr string `yaml:"metricsAddr"`
}

// GossipConfig configures the memberlist source.
type GossipConfig struct {
    Bind      string            `yaml:"bind"`
    Advertise string            `yaml:"advertise"`
    Seeds     []string          `yaml:"seeds"`
    Meta      map[string]string `yaml:"meta"`
}

// ElectionConfig tunes the reelection policy.
type ElectionConfig struct {
    MaxOpsBeforeReelection uint64 `yaml:"maxOpsBeforeReelection"`
    Disabled               bool   `yaml:"disabled"`
}

// WorkerConfig tunes the worker lifecycle.
type WorkerConfig struct {
    InitialDelay            time.Duration `yaml:"initialDelay"`
    OpsToBypassInitialDelay uint64        `yaml:"opsToBypassInitialDelay"`
    ThrottleBase            time.Duration `yaml:"throttleBase"`
    ThrottleMax             time.Duration `yaml:"throttleMax"`
    ThrottleWindow          time.Duration `yaml:"throttleWindow"`
}

// Defaults returns the configuration a fresh deployment starts from.
func Defaults() Config {
    return Config{
        Interactive: true,
        Gossip:      GossipConfig{Bind: ":7946"},
        Worker: WorkerConfig{
            InitialDelay:            5 * time.Second,
            OpsToBypassInitialDelay: 4000,
        },
    }
}

// LoadFile reads a YAML config file over Defaults. Unknown keys are rejected.
func LoadFile(path string) (Config, error) {
    raw, err := os.ReadFile(path)
    if err != nil {
        return Config{}, fmt.Errorf("bootstrap: read config: %w", err)
    }
    cfg := Defaults()
    dec := yaml.NewDecoder(bytes.NewReader(raw))
    dec.KnownFields(true)
    if err := dec.Decode(&cfg); err != nil {
        return Config{}, fmt.Errorf("bootstrap: parse config %s: %w", path, err)
    }
    return cfg, nil
}

// Validate checks the assembled configuration.
func (c Config) Validate() error {
    if c.NodeID == "" {
        return errors.New("bootstrap: empty nodeId")
    }
    if c.Gossip.Bind == "" {
        return errors.New("bootstrap: empty gossip bind address")
    }
    return nil
}

// Node is an assembled summarizer node: the coordinator plus the gossip
// source feeding it.
type Node struct {
    Coordinator *summarizer.Coordinator

    cfg    Config
    log    *zap.Logger
    source *mlsource.Source
}

// Build assembles a Node from cfg without starting any network activity.
// factory produces the summarization workers this node runs when elected.
func Build(cfg Config, factory summarizer.Factory, logger *zap.Logger) (*Node, error) {
    if err := cfg.Validate(); err != nil {
        return nil, err
    }
    if logger == nil {
        logger = zap.NewNop()
    }

    restore, err := loadSnapshot(cfg.SnapshotPath)
    if err != nil {
        // A corrupt snapshot must not prevent startup; the election simply
        // starts from scratch.
        logger.Warn("discarding unreadable election snapshot",
            zap.String("path", cfg.SnapshotPath), zap.Error(err))
        restore = nil
    }

    coord, err := summarizer.New(summarizer.Options{
        Factory:                 factory,
        Restore:                 restore,
        MaxOpsBeforeReelection:  cfg.Election.MaxOpsBeforeReelection,
        ElectionDisabled:        cfg.Election.Disabled,
        InitialDelay:            cfg.Worker.InitialDelay,
        OpsToBypassInitialDelay: cfg.Worker.OpsToBypassInitialDelay,
        ThrottleBase:            cfg.Worker.ThrottleBase,
        ThrottleMax:             cfg.Worker.ThrottleMax,
        ThrottleWindow:          cfg.Worker.ThrottleWindow,
        Logger:                  logger,
    })
    if err != nil {
        return nil, err
    }

    src, err := mlsource.New(mlsource.Options{
        NodeID:      cfg.NodeID,
        Bind:        cfg.Gossip.Bind,
        Advertise:   cfg.Gossip.Advertise,
        Interactive: cfg.Interactive,
        Meta:        cfg.Gossip.Meta,
        Logger:      logger,
    }, coord)
    if err != nil {
        _ = coord.Close()
        return nil, err
    }

    return &Node{Coordinator: coord, cfg: cfg, log: logger, source: src}, nil
}

// Start launches the gossip source, joins the configured seeds and reports
// the session as connected.
func (n *Node) Start(ctx context.Context) error {
    if err := n.source.Start(ctx); err != nil {
        return err
    }
    if err := n.source.Join(n.cfg.Gossip.Seeds); err != nil {
        n.log.Warn("seed join failed, continuing alone", zap.Error(err))
    }
    n.Coordinator.OnConnected(n.cfg.NodeID)
    return nil
}

// Close persists the election snapshot, leaves the gossip pool and disposes
// the coordinator.
func (n *Node) Close() error {
    var errs []error
    if err := n.SaveSnapshot(); err != nil {
        errs = append(errs, err)
    }
    n.Coordinator.OnDisconnected()
    if err := n.source.Stop(); err != nil {
        errs = append(errs, err)
    }
    if err := n.Coordinator.Close(); err != nil {
        errs = append(errs, err)
    }
    return errors.Join(errs...)
}

// SaveSnapshot writes the current election snapshot to SnapshotPath. No-op
// when no path is configured.
func (n *Node) SaveSnapshot() error {
    if n.cfg.SnapshotPath == "" {
        return nil
    }
    raw, err := n.Coordinator.Serialize().Encode()
    if err != nil {
        return fmt.Errorf("bootstrap: encode snapshot: %w", err)
    }
    // Write-then-rename so a crash mid-write never leaves a torn snapshot.
    tmp := n.cfg.SnapshotPath + ".tmp"
    if err := os.MkdirAll(filepath.Dir(n.cfg.SnapshotPath), 0o755); err != nil {
        return fmt.Errorf("bootstrap: snapshot dir: %w", err)
    }
    if err := os.WriteFile(tmp, raw, 0o644); err != nil {
        return fmt.Errorf("bootstrap: write snapshot: %w", err)
    }
    if err := os.Rename(tmp, n.cfg.SnapshotPath); err != nil {
        return fmt.Errorf("bootstrap: replace snapshot: %w", err)
    }
    return nil
}

func loadSnapshot(path string) (*election.Snapshot, error) {
    if path == "" {
        return nil, nil
    }
    raw, err := os.ReadFile(path)
    if os.IsNotExist(err) {
        return nil, nil
    }
    if err != nil {
        return nil, err
    }
    snap, err := election.DecodeSnapshot(raw)
    if err != nil {
        return nil, err
    }
    return &snap, nil
}
