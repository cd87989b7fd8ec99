package realtime

import (
	"log/slog"
	"time"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

type roomCmd struct {
	join  *Client
	leave *Client
	env   *Envelope
}

// room is the actor for one ChatRoom. Only its run goroutine touches the
// member set and the sequencer.
type room struct {
	id    string
	inbox chan roomCmd
	refs  int // guarded by Hub.mu
}

func newRoom(id string) *room {
	return &room{id: id, inbox: make(chan roomCmd, 256)}
}

func (r *room) run(lastSeq int64, gap time.Duration, log *slog.Logger) {
	var (
		members  = map[*Client]struct{}{}
		seq      = newSequencer(lastSeq)
		timer    *time.Timer
		timerC   <-chan time.Time
		deadline time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	defer stopTimer()

	for {
		select {
		case cmd, ok := <-r.inbox:
			if !ok {
				return
			}
			switch {
			case cmd.join != nil:
				members[cmd.join] = struct{}{}
			case cmd.leave != nil:
				delete(members, cmd.leave)
			case cmd.env != nil:
				r.handle(members, seq, cmd.env, log)
			}
		case <-timerC:
			timer, timerC = nil, nil
			if seq.Expired(time.Now(), gap) {
				held := seq.Flush()
				log.Warn("sequence gap expired, releasing held messages", "room_id", r.id, "count", len(held))
				r.deliver(members, held, log)
			}
		}

		if !seq.Waiting() {
			stopTimer()
			continue
		}
		if d := seq.Deadline(gap); timer == nil || !d.Equal(deadline) {
			stopTimer()
			deadline = d
			timer = time.NewTimer(time.Until(d))
			timerC = timer.C
		}
	}
}

func (r *room) handle(members map[*Client]struct{}, seq *sequencer, e *Envelope, log *slog.Logger) {
	switch e.Kind {
	case KindMessage:
		if e.Message == nil {
			return
		}
		r.deliver(members, seq.Push(e.Message, time.Now()), log)
	case KindRead:
		if e.Read == nil {
			return
		}
		b, err := encode(EventMessagesRead, e.Read)
		if err != nil {
			log.Error("encode read receipt", "room_id", r.id, "error", err.Error())
			return
		}
		// the reader already knows; tell the other side only
		for c := range members {
			if c.actor.Type != e.Read.ReadBy {
				c.deliver(b)
			}
		}
	case KindTyping:
		if e.Typing == nil {
			return
		}
		b, err := encode(EventUserTyping, e.Typing)
		if err != nil {
			return
		}
		for c := range members {
			if c.id != e.Origin {
				c.deliver(b)
			}
		}
	}
}

func (r *room) deliver(members map[*Client]struct{}, msgs []*orders.Message, log *slog.Logger) {
	for _, m := range msgs {
		b, err := encode(EventReceive, m)
		if err != nil {
			log.Error("encode message", "room_id", r.id, "seq", m.Seq, "error", err.Error())
			continue
		}
		for c := range members {
			c.deliver(b)
		}
	}
}
