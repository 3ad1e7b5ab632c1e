package notify

import (
	"context"
	"sync"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
)

const subscriberBuffer = 16

// Broadcaster fans job snapshots out to in-process subscribers. Publishing
// never blocks: a slow subscriber loses intermediate snapshots, not the latest.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.ImportJob]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan domain.ImportJob]struct{})}
}

// Subscribe returns snapshots of jobID and a function that ends the subscription.
func (b *Broadcaster) Subscribe(jobID string) (<-chan domain.ImportJob, func()) {
	ch := make(chan domain.ImportJob, subscriberBuffer)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan domain.ImportJob]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[jobID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, jobID)
				}
			}
		})
	}
}

// JobChanged implements ports.JobObserver.
func (b *Broadcaster) JobChanged(_ context.Context, job domain.ImportJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[job.ID] {
		select {
		case ch <- job:
			continue
		default:
		}
		// Full: drop the oldest snapshot to make room.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- job:
		default:
		}
	}
}

// Subscribers reports how many subscriptions jobID has.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

var _ ports.JobObserver = (*Broadcaster)(nil)
