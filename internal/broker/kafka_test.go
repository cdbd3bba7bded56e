package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

// fakeReader serves a fixed set of messages, then blocks until ctx is done
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	next      int
	committed []int64
}

func newFakeReader(offsets ...int64) *fakeReader {
	r := &fakeReader{}
	for _, off := range offsets {
		r.msgs = append(r.msgs, kafka.Message{Topic: "checkout-events", Offset: off})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.next < len(r.msgs) {
		msg := r.msgs[r.next]
		r.next++
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Config() kafka.ReaderConfig {
	return kafka.ReaderConfig{Topic: "checkout-events"}
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

var testBackoff = Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond}

func TestStartConsumingRetriesFailedMessageBeforeCommitting(t *testing.T) {
	reader := newFakeReader(10, 11)
	consumer := newConsumer(reader, testBackoff)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled []int64
	failures := 2
	err := consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		handled = append(handled, msg.Offset)
		if msg.Offset == 10 {
			assert.Empty(t, reader.commits(), "nothing may be committed while offset 10 is failing")
			if failures > 0 {
				failures--
				return errors.New("database unavailable")
			}
			return nil
		}
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{10, 10, 10, 11}, handled)
	assert.Equal(t, []int64{10, 11}, reader.commits())
}

func TestStartConsumingSkipsMalformedMessage(t *testing.T) {
	reader := newFakeReader(3, 4)
	consumer := newConsumer(reader, testBackoff)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := map[int64]int{}
	err := consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		calls[msg.Offset]++
		if msg.Offset == 3 {
			return fmt.Errorf("failed to unmarshal base event: %w", ErrMalformedMessage)
		}
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls[3])
	assert.Equal(t, []int64{3, 4}, reader.commits())
}

func TestStartConsumingStopsRetryingWhenCancelled(t *testing.T) {
	reader := newFakeReader(5, 6)
	consumer := newConsumer(reader, testBackoff)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			assert.Equal(t, int64(5), msg.Offset)
			attempts++
			if attempts == 3 {
				cancel()
			}
			return errors.New("database unavailable")
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
	assert.Equal(t, 3, attempts)
	assert.Empty(t, reader.commits())
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}

	d := b.next(0)
	assert.Equal(t, 100*time.Millisecond, d)
	d = b.next(d)
	assert.Equal(t, 200*time.Millisecond, d)
	d = b.next(b.next(d))
	assert.Equal(t, 800*time.Millisecond, d)
	assert.Equal(t, time.Second, b.next(d))
	assert.Equal(t, time.Second, b.next(time.Second))
}

func TestNewConsumerDefaultsBackoff(t *testing.T) {
	consumer := newConsumer(newFakeReader(), Backoff{})

	assert.Equal(t, 500*time.Millisecond, consumer.backoff.Initial)
	assert.Equal(t, 500*time.Millisecond, consumer.backoff.Max)
}
