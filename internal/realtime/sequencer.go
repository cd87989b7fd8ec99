package realtime

import (
	"sort"
	"time"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// sequencer releases a room's messages in seq order. A message that arrives
// ahead of a gap is held until the gap fills or Flush is called.
type sequencer struct {
	next    int64
	pending map[int64]*orders.Message
	since   time.Time // when the oldest held message arrived
}

func newSequencer(lastSeq int64) *sequencer {
	return &sequencer{next: lastSeq + 1, pending: map[int64]*orders.Message{}}
}

// Push accepts m and returns the messages now deliverable, in order.
// Anything at or below the already released seq is dropped.
func (s *sequencer) Push(m *orders.Message, now time.Time) []*orders.Message {
	if m.Seq < s.next {
		return nil
	}
	if _, dup := s.pending[m.Seq]; dup {
		return nil
	}
	if m.Seq > s.next {
		if len(s.pending) == 0 {
			s.since = now
		}
		s.pending[m.Seq] = m
		return nil
	}
	out := []*orders.Message{m}
	s.next++
	return s.drain(out, now)
}

func (s *sequencer) drain(out []*orders.Message, now time.Time) []*orders.Message {
	for {
		m, ok := s.pending[s.next]
		if !ok {
			break
		}
		delete(s.pending, s.next)
		out = append(out, m)
		s.next++
	}
	if len(s.pending) > 0 && len(out) > 0 {
		s.since = now
	}
	return out
}

// Waiting reports whether messages are held behind a gap.
func (s *sequencer) Waiting() bool { return len(s.pending) > 0 }

// Deadline is when the current gap expires under wait d. The clock restarts
// whenever a partial drain releases messages.
func (s *sequencer) Deadline(d time.Duration) time.Time { return s.since.Add(d) }

// Expired reports whether the held messages have waited longer than d.
func (s *sequencer) Expired(now time.Time, d time.Duration) bool {
	return s.Waiting() && !now.Before(s.Deadline(d))
}

// Flush gives up on the current gap and releases everything held, in order.
func (s *sequencer) Flush() []*orders.Message {
	if len(s.pending) == 0 {
		return nil
	}
	seqs := make([]int64, 0, len(s.pending))
	for seq := range s.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	out := make([]*orders.Message, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, s.pending[seq])
		delete(s.pending, seq)
	}
	s.next = seqs[len(seqs)-1] + 1
	return out
}
