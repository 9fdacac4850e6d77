package mailer

import "context"

// Scheduler yields queued messages in send order.
//
// Each poll walks the tiers from high to low and takes the first non-empty
// one: a snapshot of up to HighBatch high priority messages, or the single
// oldest medium or low priority message. Higher tiers are therefore re-checked
// before every medium or low send, so a high priority message enqueued during
// a drain preempts the rest of the queue. Deferred messages are never yielded.
//
// The sequence ends only when a poll finds no non-deferred message of the
// scheduler's mass flag; until then callers may keep pulling indefinitely.
type Scheduler struct {
	store     Store
	mass      bool
	highBatch int
	pending   []Message
}

// NewScheduler returns a scheduler over store for mass or non-mass messages.
func NewScheduler(store Store, mass bool, highBatch int) *Scheduler {
	if highBatch <= 0 {
		highBatch = defaultHighBatch
	}

	return &Scheduler{store: store, mass: mass, highBatch: highBatch}
}

// Next returns the next message to send. ok is false once the queue is drained.
func (s *Scheduler) Next(ctx context.Context) (msg Message, ok bool, err error) {
	for {
		if len(s.pending) > 0 {
			msg = s.pending[0]
			s.pending = s.pending[1:]

			return msg, true, nil
		}
		if err := ctx.Err(); err != nil {
			return Message{}, false, err
		}

		found, err := s.poll(ctx)
		if err != nil {
			return Message{}, false, err
		}
		if found {
			continue
		}

		remaining, err := s.store.Count(ctx, Filter{Mass: s.mass})
		if err != nil {
			return Message{}, false, err
		}
		if remaining == 0 {
			return Message{}, false, nil
		}
		// A tier emptied between the poll and the count; poll again.
	}
}

func (s *Scheduler) poll(ctx context.Context) (bool, error) {
	for _, tier := range Tiers {
		limit := 1
		if tier == PriorityHigh {
			limit = s.highBatch
		}
		msgs, err := s.store.List(ctx, Filter{Priority: tier, Mass: s.mass}, limit)
		if err != nil {
			return false, err
		}
		if len(msgs) > 0 {
			s.pending = msgs

			return true, nil
		}
	}

	return false, nil
}
