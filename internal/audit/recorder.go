// Package audit fans security events out to the configured sinks.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"registration-service/internal/bucketing"
	"registration-service/internal/models"
)

const (
	sinkTimeout = 2 * time.Second
	queueSize   = 1024
)

// Sink persists security events.
type Sink interface {
	Name() string
	Write(ctx context.Context, event models.SecurityEvent) error
}

// Recorder queues events and writes each one to every sink from a
// background worker. Sink failures are logged and never reach the caller;
// when the queue is full the event is dropped.
type Recorder struct {
	sinks     []Sink
	bucketing *bucketing.BucketingManager
	logger    *zap.Logger
	now       func() time.Time

	queue  chan models.SecurityEvent
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewRecorder(bm *bucketing.BucketingManager, logger *zap.Logger, sinks ...Sink) *Recorder {
	r := &Recorder{
		sinks:     sinks,
		bucketing: bm,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan models.SecurityEvent, queueSize),
		done:      make(chan struct{}),
	}
	if len(sinks) == 0 {
		close(r.done)
		return r
	}
	go r.run()
	return r
}

// Record stamps identity and partition fields on event and queues it. It
// never waits on a sink.
func (r *Recorder) Record(_ context.Context, event models.SecurityEvent) {
	if r == nil || len(r.sinks) == 0 {
		return
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.EventTime.IsZero() {
		event.EventTime = r.now().UTC()
	}
	event.EventDate = r.bucketing.GetDateBucket(event.EventTime)
	event.EventBucket = r.bucketing.GetEventBucket(event.SubjectHash)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.logger.Warn("Audit queue full, dropping event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType))
	}
}

// Close stops accepting events and waits until the queued ones are written.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		if len(r.sinks) > 0 {
			close(r.queue)
		}
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		r.write(event)
	}
}

func (r *Recorder) write(event models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range r.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(ctx, event); err != nil {
				r.logger.Warn("Audit sink write failed",
					zap.String("sink", sink.Name()),
					zap.String("event_type", event.EventType),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
