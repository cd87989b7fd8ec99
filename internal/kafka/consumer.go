package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/loceal-orders/internal/logx"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *slog.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: logx.New("kafka-consumer").With("topic", topic, "group", group)}
}

// Start fetches until ctx is done. Offsets are committed only after h
// succeeds; a failed message is left uncommitted for redelivery.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	errs := make(chan error, c.workers)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				if err := h(ctx, m); err != nil {
					c.log.Warn("handler failed", "worker", id, "partition", m.Partition, "offset", m.Offset, "error", err.Error())
					select {
					case errs <- err:
					default:
					}
					continue
				}
				// commit on success
				if err := c.r.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
					c.log.Warn("commit failed", "worker", id, "offset", m.Offset, "error", err.Error())
				}
			}
		}(i)
	}
	defer wg.Wait()
	defer close(jobs)

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}

		// non-blocking drain error agar tidak deadlock
		select {
		case <-errs:
			time.Sleep(200 * time.Millisecond) // backoff ringan
		default:
		}
	}
}
