package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    Members = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "scribe",
        Name:      "members_total",
        Help:      "Current number of joined session members",
    })

    IsElected = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "scribe",
        Name:      "is_elected",
        Help:      "1 if the local member is the elected summarizer base, else 0",
    })

    ElectedChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "scribe",
        Name:      "elected_changes_total",
        Help:      "Total number of elected identity transitions",
    })

    ReelectionEvals = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "scribe",
        Name:      "reelection_evaluations_total",
        Help:      "Total threshold-driven reelection evaluations, including no-change outcomes",
    })

    WorkerStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "scribe",
        Subsystem: "worker",
        Name:      "starts_total",
        Help:      "Total worker factory settlements handled by the lifecycle manager",
    }, []string{"result"})

    WorkerRetries = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "scribe",
        Subsystem: "worker",
        Name:      "retries_total",
        Help:      "Total worker start retries scheduled with backoff",
    })

    WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "scribe",
        Subsystem: "worker",
        Name:      "active",
        Help:      "1 while a worker generation is running, else 0",
    })

    WorkerRunSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: "scribe",
        Subsystem: "worker",
        Name:      "run_seconds",
        Help:      "Duration of completed worker runs",
        Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(Members)
        prometheus.MustRegister(IsElected)
        prometheus.MustRegister(ElectedChanges)
        prometheus.MustRegister(ReelectionEvals)
        prometheus.MustRegister(WorkerStarts)
        prometheus.MustRegister(WorkerRetries)
        prometheus.MustRegister(WorkerActive)
        prometheus.MustRegister(WorkerRunSeconds)
    })
}
