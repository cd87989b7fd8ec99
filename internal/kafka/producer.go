package kafka

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/loceal-orders/internal/logx"
)

// Producer is an async, fire-and-forget writer fed through a buffered inbox.
type Producer struct {
	w       messageWriter
	inbox   chan kafka.Message
	stop    chan struct{}
	closeCh chan struct{}
	closed  atomic.Bool
	log     *slog.Logger
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	log := logx.New("kafka-producer").With("topic", topic)
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true, // fire-and-forget untuk throughput; error dilaporkan lewat Completion
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error("kafka write failed", "count", len(msgs), "error", err.Error())
			}
		},
	}
	return newProducer(w, buf, log)
}

func newProducer(w messageWriter, buf int, log *slog.Logger) *Producer {
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		stop:    make(chan struct{}),
		closeCh: make(chan struct{}),
		log:     log,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case <-p.stop:
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

// drain flushes whatever is still buffered, then closes the writer.
func (p *Producer) drain() {
	p.closed.Store(true)
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Warn("kafka writer close", "error", err.Error())
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("kafka enqueue failed", "key", string(m.Key), "error", err.Error())
	}
}

// Publish queues a message. It reports false when the producer is shutting
// down or ctx ends before the inbox has room.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) bool {
	if p.closed.Load() {
		return false
	}
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return true
	case <-p.closeCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close minta goroutine nge-flush sisa pesan lalu exit rapi. Safe to call twice.
func (p *Producer) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.stop)
	}
}

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
