package memory

import "time"

// Observer receives engine events for metrics. All methods must be cheap and
// safe for concurrent use.
type Observer interface {
	CompactionFinished(result string)
	DrainFinished(result string)
	ReplyFinished(result string)
	BufferTrimmed(dropped int)
	CompletionObserved(purpose string, elapsed time.Duration, err error)
}

// Result labels passed to Observer.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// NoopObserver discards every event.
type NoopObserver struct{}

func (NoopObserver) CompactionFinished(string)                       {}
func (NoopObserver) DrainFinished(string)                            {}
func (NoopObserver) ReplyFinished(string)                            {}
func (NoopObserver) BufferTrimmed(int)                               {}
func (NoopObserver) CompletionObserved(string, time.Duration, error) {}
