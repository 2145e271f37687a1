package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/uplifthq/uplift/internal/rabbitmq/queue"
)

//go:generate mockgen -source=pool.go -destination=../mocks/worker/mock.go -package=mocks

type jobConsumer interface {
	Consume(ctx context.Context, out chan<- queue.JobMessage, strategy retry.Strategy) error
}

type jobProcessor interface {
	Process(ctx context.Context, strategy retry.Strategy, jobID uuid.UUID) error
}

// Pool fans queued delivery jobs out to a fixed number of workers. Workers
// never coordinate with each other: the claim inside the processor decides
// who owns a job.
type Pool struct {
	queue     jobConsumer
	processor jobProcessor
}

func NewPool(q jobConsumer, p jobProcessor) *Pool {
	return &Pool{
		queue:     q,
		processor: p,
	}
}

func (p *Pool) Run(ctx context.Context, strategy retry.Strategy, workerCount int) {
	var wg sync.WaitGroup
	msgChan := make(chan queue.JobMessage, workerCount*10)

	go func() {
		if err := p.queue.Consume(ctx, msgChan, strategy); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to consume delivery queue")
		}
	}()

	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(id int) {
			defer wg.Done()

			zlog.Logger.Printf("worker-%d started", id)

			for {
				select {
				case <-ctx.Done():
					zlog.Logger.Printf("worker-%d shutting down", id)
					return
				case msg, ok := <-msgChan:
					if !ok {
						zlog.Logger.Printf("worker-%d channel closed, shutting down", id)
						return
					}

					if err := p.processor.Process(ctx, strategy, msg.ID); err != nil {
						zlog.Logger.Printf("worker-%d: job %s: %v", id, msg.ID, err)
					}
				}
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	zlog.Logger.Print("delivery pool stopped")
}
