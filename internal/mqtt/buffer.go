package mqtt

import (
	"github.com/rs/zerolog"

	xlog "github.com/sweeney/radio-alarm/internal/log"
)

// bufferedMsg is a publish held back while the broker is unreachable.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox queues publishes while disconnected, oldest first. When full the
// oldest message is dropped. A retained message overwrites a queued retained
// message on the same topic in place. Callers synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int // since the last drain
	logger   zerolog.Logger
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		logger:   xlog.WithComponent("mqtt"),
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.retained {
		for i := range o.msgs {
			if o.msgs[i].retained && o.msgs[i].topic == msg.topic {
				o.msgs[i] = msg
				return
			}
		}
	}
	if len(o.msgs) == o.capacity {
		if o.dropped == 0 {
			o.logger.Warn().Int("capacity", o.capacity).Msg("offline queue full, dropping oldest")
		}
		o.dropped++
		o.msgs = append(o.msgs[:0], o.msgs[1:]...)
	}
	o.msgs = append(o.msgs, msg)
}

// drain returns the queued messages and empties the queue.
func (o *outbox) drain() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	if o.dropped > 0 {
		o.logger.Warn().Int("dropped", o.dropped).Msg("messages lost while offline")
	}
	out := append([]bufferedMsg(nil), o.msgs...)
	o.msgs = o.msgs[:0]
	o.dropped = 0
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
