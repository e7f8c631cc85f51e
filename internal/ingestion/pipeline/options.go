package pipeline

import "time"

// Options are the already-parsed run parameters.
type Options struct {
	// MaxFiles caps the files a stage works on in one run. Zero means unlimited.
	MaxFiles    int
	DryRun      bool
	RetryFailed bool
	// ParallelWorkers sizes the processing pool, IndexWorkers the indexing pool.
	ParallelWorkers int
	IndexWorkers    int
	UseProcessPool  bool
	ChunkSize       int
	ForceFullSync   bool
}

func DefaultOptions() Options {
	return Options{
		ParallelWorkers: 5,
		IndexWorkers:    3,
		ChunkSize:       100,
	}
}

func (o Options) normalized() Options {
	if o.ParallelWorkers < 1 {
		o.ParallelWorkers = 1
	}
	if o.IndexWorkers < 1 {
		o.IndexWorkers = 1
	}
	if o.ChunkSize < 1 {
		o.ChunkSize = 100
	}
	if o.MaxFiles < 0 {
		o.MaxFiles = 0
	}
	return o
}

// Observer receives run metrics. A nil Observer is allowed.
type Observer interface {
	ObserveFile(stage, outcome string)
	ObserveStage(stage, status string, dur time.Duration)
	AddInflight(stage string, delta int)
}

type nopObserver struct{}

func (nopObserver) ObserveFile(string, string)                 {}
func (nopObserver) ObserveStage(string, string, time.Duration) {}
func (nopObserver) AddInflight(string, int)                    {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
