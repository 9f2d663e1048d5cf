package summarizer

import "errors"

var (
    ErrWorkerStart       = errors.New("summarizer: worker start failed")
    ErrWorkerRun         = errors.New("summarizer: worker terminated abnormally")
    ErrInvalidTransition = errors.New("summarizer: invalid state transition")
    ErrDisposed          = errors.New("summarizer: coordinator disposed")
)
