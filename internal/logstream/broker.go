// Package logstream broadcasts per-job progress lines from the pipeline to
// any number of live subscribers. Delivery is best-effort message passing: a
// slow subscriber loses lines instead of stalling the scan.
package logstream

import (
	"sync"

	"go.uber.org/zap"
)

const subscriberBuffer = 64

// Broker fans progress lines out per job.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan string]struct{}
	log  *zap.Logger
}

func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		subs: make(map[string]map[chan string]struct{}),
		log:  logger.Named("logstream"),
	}
}

// Publish delivers a line to every subscriber of the job. It never blocks:
// full subscriber buffers drop the line.
func (b *Broker) Publish(jobID, line string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[jobID] {
		select {
		case ch <- line:
		default:
			// Subscriber is not keeping up; this line is lost to it.
		}
	}
}

// Subscribe registers a listener for one job's progress stream. The returned
// cancel function must be called to release the subscription; it closes the
// channel.
func (b *Broker) Subscribe(jobID string) (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan string]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	b.log.Debug("Log stream subscriber added", zap.String("job_id", jobID))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
