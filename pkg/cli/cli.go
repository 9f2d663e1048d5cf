// Package cli implements the scribectl commands.
package cli

import (
    "bufio"
    "context"
    "fmt"
    "io"
    "net/http"
    "os"
    "os/signal"
    "strconv"
    "strings"
    "syscall"
    "time"

    "github.com/google/uuid"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "github.com/blindperson/scribe/pkg/bootstrap"
    "github.com/blindperson/scribe/pkg/membership"
    "github.com/blindperson/scribe/pkg/observability/tracing"
    "github.com/blindperson/scribe/pkg/summarizer"
)

// AddAll attaches the scribe subcommands (run/replay) to the provided root
// command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewReplayCmd())
}

// NewRunCmd returns the "run" command used to start a summarizer node over
// gossip membership with a demo worker.
func NewRunCmd() *cobra.Command {
    var (
        configPath, id, bind, advertise, joinCSV string
        metricsAddr, snapshotPath                string
        interactive, traceEnable, logJSON        bool
        summaryInterval                          time.Duration
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a summarizer node",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := signalContext()
            defer cancel()

            logger, err := buildLogger(logJSON)
            if err != nil {
                return err
            }
            defer func() { _ = logger.Sync() }()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    logger.Warn("tracing setup failed", zap.Error(err))
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg := bootstrap.Defaults()
            if configPath != "" {
                cfg, err = bootstrap.LoadFile(configPath)
                if err != nil {
                    return err
                }
            }
            // Flags override file values.
            if id != "" {
                cfg.NodeID = id
            }
            if cfg.NodeID == "" {
                cfg.NodeID = "scribe-" + uuid.NewString()[:8]
            }
            if bind != "" {
                cfg.Gossip.Bind = bind
            }
            if advertise != "" {
                cfg.Gossip.Advertise = advertise
            }
            if joinCSV != "" {
                cfg.Gossip.Seeds = splitCSV(joinCSV)
            }
            if metricsAddr != "" {
                cfg.MetricsAddr = metricsAddr
            }
            if snapshotPath != "" {
                cfg.SnapshotPath = snapshotPath
            }
            cfg.Interactive = interactive

            node, err := bootstrap.Build(cfg, tickFactory(logger, summaryInterval), logger)
            if err != nil {
                return err
            }
            if err := node.Start(ctx); err != nil {
                _ = node.Close()
                return err
            }
            defer node.Close()

            if cfg.MetricsAddr != "" {
                go serveMetrics(cfg.MetricsAddr, logger)
            }

            logger.Info("summarizer node running",
                zap.String("nodeId", cfg.NodeID),
                zap.String("bind", cfg.Gossip.Bind))
            fmt.Println("node running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
    cmd.Flags().StringVar(&id, "id", "", "node id (default: generated)")
    cmd.Flags().StringVar(&bind, "bind", "", "gossip bind addr (host:port)")
    cmd.Flags().StringVar(&advertise, "advertise", "", "gossip advertise addr (host:port, optional)")
    cmd.Flags().StringVar(&joinCSV, "join", "", "comma-separated seed nodes (host:port)")
    cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus endpoint addr (host:port, optional)")
    cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "path for election snapshot persistence")
    cmd.Flags().BoolVar(&interactive, "interactive", true, "mark this node electable as an interactive session")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    cmd.Flags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")
    cmd.Flags().DurationVar(&summaryInterval, "summary-interval", 10*time.Second, "demo worker summary interval")
    return cmd
}

// NewReplayCmd returns the "replay" command: it feeds a scripted event
// sequence through a coordinator and prints every election transition. The
// same script always prints the same transitions, whichever machine runs it.
func NewReplayCmd() *cobra.Command {
    var (
        scriptPath string
        maxOps     uint64
    )
    cmd := &cobra.Command{
        Use:   "replay",
        Short: "Replay a membership/op event script and print election transitions",
        Long: `Replay reads one event per line and applies it to a fresh coordinator:

    join <id> <seq> [interactive|passive]
    leave <id>
    op <seq>
    ack <seq>

Blank lines and lines starting with # are skipped. Each line that changes the
elected identity prints a transition.`,
        RunE: func(cmd *cobra.Command, args []string) error {
            in := cmd.InOrStdin()
            if scriptPath != "" {
                f, err := os.Open(scriptPath)
                if err != nil {
                    return err
                }
                defer f.Close()
                in = f
            }
            return replay(in, cmd.OutOrStdout(), maxOps)
        },
    }
    cmd.Flags().StringVar(&scriptPath, "script", "", "path to event script (default: stdin)")
    cmd.Flags().Uint64Var(&maxOps, "max-ops", 0, "op budget before forced reelection (0 = default)")
    return cmd
}

func replay(in io.Reader, out io.Writer, maxOps uint64) error {
    coord, err := summarizer.New(summarizer.Options{
        Factory: summarizer.FactoryFunc(func(context.Context) (summarizer.Worker, error) {
            return nil, fmt.Errorf("replay runs no workers")
        }),
        MaxOpsBeforeReelection: maxOps,
    })
    if err != nil {
        return err
    }
    defer coord.Close()

    sc := bufio.NewScanner(in)
    lineNo := 0
    prev := coord.ElectedIdentity()
    for sc.Scan() {
        lineNo++
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") {
            continue
        }
        if err := applyLine(coord, line); err != nil {
            return fmt.Errorf("line %d: %w", lineNo, err)
        }
        if cur := coord.ElectedIdentity(); cur != prev {
            fmt.Fprintf(out, "line %d: elected %s (seq %d)\n", lineNo, orNone(cur), coord.Serialize().ElectionSequence)
            prev = cur
        }
    }
    return sc.Err()
}

func applyLine(coord *summarizer.Coordinator, line string) error {
    fields := strings.Fields(line)
    switch fields[0] {
    case "join":
        if len(fields) < 3 {
            return fmt.Errorf("join needs <id> <seq>")
        }
        seq, err := strconv.ParseUint(fields[2], 10, 64)
        if err != nil {
            return fmt.Errorf("bad seq %q", fields[2])
        }
        attrs := membership.Attributes{Interactive: true}
        if len(fields) > 3 && fields[3] == "passive" {
            attrs.Interactive = false
        }
        return coord.OnMemberAdded(fields[1], seq, attrs)
    case "leave":
        if len(fields) < 2 {
            return fmt.Errorf("leave needs <id>")
        }
        coord.OnMemberRemoved(fields[1])
        return nil
    case "op":
        if len(fields) < 2 {
            return fmt.Errorf("op needs <seq>")
        }
        seq, err := strconv.ParseUint(fields[1], 10, 64)
        if err != nil {
            return fmt.Errorf("bad seq %q", fields[1])
        }
        coord.OnOpSequenceAdvanced(seq)
        return nil
    case "ack":
        if len(fields) < 2 {
            return fmt.Errorf("ack needs <seq>")
        }
        seq, err := strconv.ParseUint(fields[1], 10, 64)
        if err != nil {
            return fmt.Errorf("bad seq %q", fields[1])
        }
        coord.OnCheckpointAcknowledged(seq)
        return nil
    default:
        return fmt.Errorf("unknown verb %q", fields[0])
    }
}

func orNone(id string) string {
    if id == "" {
        return "<none>"
    }
    return id
}

// tickFactory produces the demo worker: it logs a summary line per interval
// until asked to stop.
func tickFactory(logger *zap.Logger, interval time.Duration) summarizer.Factory {
    return summarizer.FactoryFunc(func(context.Context) (summarizer.Worker, error) {
        return &tickWorker{log: logger, interval: interval, stop: make(chan string, 1)}, nil
    })
}

type tickWorker struct {
    log      *zap.Logger
    interval time.Duration
    stop     chan string
}

func (w *tickWorker) Run(ctx context.Context, onBehalfOf string) (string, error) {
    w.log.Info("summary worker started", zap.String("onBehalfOf", onBehalfOf))
    tick := time.NewTicker(w.interval)
    defer tick.Stop()
    n := 0
    for {
        select {
        case <-tick.C:
            n++
            w.log.Info("summary produced", zap.Int("n", n))
        case reason := <-w.stop:
            w.log.Info("summary worker stopping", zap.String("reason", reason))
            return reason, nil
        case <-ctx.Done():
            return "context", ctx.Err()
        }
    }
}

func (w *tickWorker) RequestStop(reason string) {
    select {
    case w.stop <- reason:
    default:
    }
}

func buildLogger(jsonOut bool) (*zap.Logger, error) {
    if jsonOut {
        return zap.NewProduction()
    }
    return zap.NewDevelopment()
}

func serveMetrics(addr string, logger *zap.Logger) {
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.Handler())
    logger.Info("serving metrics", zap.String("addr", addr))
    if err := http.ListenAndServe(addr, mux); err != nil {
        logger.Warn("metrics endpoint stopped", zap.Error(err))
    }
}

func splitCSV(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        p = strings.TrimSpace(p)
        if p != "" {
            out = append(out, p)
        }
    }
    return out
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
