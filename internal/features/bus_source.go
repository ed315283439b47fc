package features

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/reideval/reid-eval/internal/bus"
	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// BatchMessage is the payload of a features.batch event. Seq orders the
// batches of one run since delivery order is not guaranteed.
type BatchMessage struct {
	Seq int `json:"seq"`
	Batch
}

// DoneMessage is the payload of a features.done event.
type DoneMessage struct {
	Batches int `json:"batches"`
}

// BusSource serves batches received on the bus in Seq order. It reports
// io.EOF once the done marker has arrived and every announced batch has
// been served.
type BusSource struct {
	run string

	mu      sync.Mutex
	pending map[int]*Batch
	next    int
	total   int
	err     error
	signal  chan struct{}
}

// NewBusSource subscribes to the feature topics of b. When run is not
// empty, events with a different correlation ID are ignored.
func NewBusSource(ctx context.Context, b bus.Bus, run string) (*BusSource, error) {
	s := &BusSource{
		run:     run,
		pending: make(map[int]*Batch),
		total:   -1,
		signal:  make(chan struct{}, 1),
	}

	if err := b.Subscribe(ctx, bus.TopicFeatureBatch, s.onBatch); err != nil {
		return nil, err
	}
	if err := b.Subscribe(ctx, bus.TopicFeatureDone, s.onDone); err != nil {
		return nil, err
	}
	return s, nil
}

// Next blocks until the next batch in sequence is available.
func (s *BusSource) Next(ctx context.Context) (*Batch, error) {
	for {
		s.mu.Lock()
		if b, ok := s.pending[s.next]; ok {
			delete(s.pending, s.next)
			s.next++
			s.mu.Unlock()
			return b, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		if s.total >= 0 && s.next >= s.total {
			s.mu.Unlock()
			return nil, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.signal:
		}
	}
}

func (s *BusSource) onBatch(ctx context.Context, event bus.Event) error {
	if !s.accepts(event) {
		return nil
	}

	var msg BatchMessage
	if err := decodePayload(event.Payload, &msg); err != nil {
		s.fail(errors.ContractError("event %s: malformed feature batch: %v", event.ID, err))
		return err
	}

	s.mu.Lock()
	// Redelivered batches are dropped
	if _, seen := s.pending[msg.Seq]; !seen && msg.Seq >= s.next {
		b := msg.Batch
		s.pending[msg.Seq] = &b
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *BusSource) onDone(ctx context.Context, event bus.Event) error {
	if !s.accepts(event) {
		return nil
	}

	var msg DoneMessage
	if err := decodePayload(event.Payload, &msg); err != nil {
		s.fail(errors.ContractError("event %s: malformed done marker: %v", event.ID, err))
		return err
	}

	s.mu.Lock()
	s.total = msg.Batches
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *BusSource) accepts(event bus.Event) bool {
	return s.run == "" || event.CorrelationID == s.run
}

func (s *BusSource) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.notify()
}

func (s *BusSource) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// decodePayload handles both in-process payloads and the generic maps
// produced by decoding an event from the wire.
func decodePayload(payload any, out any) error {
	switch p := payload.(type) {
	case BatchMessage:
		if m, ok := out.(*BatchMessage); ok {
			*m = p
			return nil
		}
	case *BatchMessage:
		if m, ok := out.(*BatchMessage); ok && p != nil {
			*m = *p
			return nil
		}
	case DoneMessage:
		if m, ok := out.(*DoneMessage); ok {
			*m = p
			return nil
		}
	case *DoneMessage:
		if m, ok := out.(*DoneMessage); ok && p != nil {
			*m = *p
			return nil
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// PublishBatches publishes batches as one run followed by its done marker.
func PublishBatches(ctx context.Context, b bus.Bus, run, source string, batches []*Batch) error {
	for i, batch := range batches {
		event := bus.NewEvent(bus.TopicFeatureBatch, source, BatchMessage{Seq: i, Batch: *batch})
		event.CorrelationID = run
		if err := b.Publish(ctx, bus.TopicFeatureBatch, event); err != nil {
			return err
		}
	}

	done := bus.NewEvent(bus.TopicFeatureDone, source, DoneMessage{Batches: len(batches)})
	done.CorrelationID = run
	return b.Publish(ctx, bus.TopicFeatureDone, done)
}
