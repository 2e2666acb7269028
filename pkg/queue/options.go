package queue

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

type WorkerOptions struct {
	Queues          []string
	PollInterval    time.Duration
	BatchSize       int
	LockTTL         time.Duration
	Concurrency     int
	MaxBackoff      time.Duration
	JitterMax       time.Duration
	LastErrorMaxLen int

	DispatchTimeout time.Duration

	// OnDead runs after a task transitions to failed, at most once per task.
	// Implementations must tolerate being called with an already-cancelled
	// context during shutdown.
	OnDead func(ctx context.Context, task DispatchedTask, cause error)

	Logger *logrus.Entry

	Rand *rand.Rand

	ObserveQueueDepthEvery time.Duration
}

func (o *WorkerOptions) setDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = 1 * time.Second
	}
	if o.BatchSize == 0 {
		o.BatchSize = 20
	}
	if o.LockTTL == 0 {
		o.LockTTL = 60 * time.Second
	}
	if o.Concurrency == 0 {
		o.Concurrency = 4
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 60 * time.Second
	}
	if o.JitterMax == 0 {
		o.JitterMax = 200 * time.Millisecond
	}
	if o.LastErrorMaxLen == 0 {
		o.LastErrorMaxLen = 2048
	}
	if o.DispatchTimeout == 0 {
		o.DispatchTimeout = 30 * time.Minute
	}
	if o.ObserveQueueDepthEvery == 0 {
		o.ObserveQueueDepthEvery = 10 * time.Second
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
}

type JanitorOptions struct {
	Enabled       bool
	Interval      time.Duration
	Retention     time.Duration
	DeadRetention time.Duration

	Logger *logrus.Entry
}

func (o *JanitorOptions) setDefaults() {
	if o.Interval == 0 {
		o.Interval = 1 * time.Minute
	}
	if o.Retention == 0 {
		o.Retention = 7 * 24 * time.Hour
	}
}
