package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/retry"

	"github.com/uplifthq/uplift/internal/rabbitmq/queue"
)

type scriptedConsumer struct {
	msgs []queue.JobMessage
}

func (c *scriptedConsumer) Consume(ctx context.Context, out chan<- queue.JobMessage, _ retry.Strategy) error {
	for _, msg := range c.msgs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- msg:
		}
	}
	<-ctx.Done()
	return nil
}

type recordingProcessor struct {
	mu        sync.Mutex
	processed []uuid.UUID
	err       error
}

func (p *recordingProcessor) Process(_ context.Context, _ retry.Strategy, jobID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, jobID)
	return p.err
}

func (p *recordingProcessor) seen() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.processed...)
}

func TestPool_Run_ProcessesMessages(t *testing.T) {
	jobA := uuid.New()
	jobB := uuid.New()

	consumer := &scriptedConsumer{msgs: []queue.JobMessage{{ID: jobA}, {ID: jobB}}}
	processor := &recordingProcessor{}
	pool := NewPool(consumer, processor)

	ctx, cancel := context.WithCancel(context.Background())
	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx, strategy, 2)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(processor.seen()) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.ElementsMatch(t, []uuid.UUID{jobA, jobB}, processor.seen())
}

func TestPool_Run_ProcessorErrorDoesNotStopPool(t *testing.T) {
	jobA := uuid.New()
	jobB := uuid.New()

	consumer := &scriptedConsumer{msgs: []queue.JobMessage{{ID: jobA}, {ID: jobB}}}
	processor := &recordingProcessor{err: errors.New("db error")}
	pool := NewPool(consumer, processor)

	ctx, cancel := context.WithCancel(context.Background())
	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx, strategy, 1)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(processor.seen()) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestPool_Run_StopsOnContextCancel(t *testing.T) {
	consumer := &scriptedConsumer{}
	processor := &recordingProcessor{}
	pool := NewPool(consumer, processor)

	ctx, cancel := context.WithCancel(context.Background())
	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx, strategy, 4)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancel")
	}
	assert.Empty(t, processor.seen())
}
