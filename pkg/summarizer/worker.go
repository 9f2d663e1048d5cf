package summarizer

import "context"

// IdentitySuffix is appended to the elected base id to form the derived
// worker identity exposed while a worker runs on the base member's behalf.
// Eligibility predicates must exclude ids carrying this suffix so a worker
// never elects itself.
const IdentitySuffix = "/worker"

// Stop reasons passed to Worker.RequestStop.
const (
    StopReasonHandover     = "handover"
    StopReasonDisconnected = "disconnected"
    StopReasonSuperseded   = "superseded"
    StopReasonDisposed     = "disposed"
)

// Worker is the opaque summarization task. Run blocks until the worker has
// fully terminated and returns the termination reason; after RequestStop the
// worker is expected to finish its current in-flight operation (graceful
// drain) rather than abort it. RequestStop never blocks and is safe to call
// more than once.
type Worker interface {
    Run(ctx context.Context, onBehalfOf string) (reason string, err error)
    RequestStop(reason string)
}

// Factory produces workers. Create may fail; failures are retried with
// backoff while ownership conditions hold.
type Factory interface {
    Create(ctx context.Context) (Worker, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Worker, error)

func (f FactoryFunc) Create(ctx context.Context) (Worker, error) { return f(ctx) }
