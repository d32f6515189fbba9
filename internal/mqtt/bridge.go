package mqtt

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	xlog "github.com/sweeney/radio-alarm/internal/log"
	"github.com/sweeney/radio-alarm/internal/metrics"
	"github.com/sweeney/radio-alarm/internal/status"
)

// Executor runs a command line; *control.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, origin, line string) (string, error)
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Heartbeat time.Duration // 0 disables heartbeats
	MinGap    time.Duration // minimum spacing of status publishes
	Commands  bool          // subscribe to the command topic
}

// Bridge mirrors daemon status to MQTT and feeds received commands back
// to the daemon. It implements daemon.Observer.
type Bridge struct {
	pub     Publisher
	tracker *status.Tracker
	exec    Executor
	opts    BridgeOptions
	limiter *rate.Limiter
	now     func() time.Time
	logger  zerolog.Logger

	// latest unpublished snapshot; older ones are superseded
	updates chan status.Snapshot
}

// NewBridge creates a Bridge publishing through pub.
func NewBridge(pub Publisher, tracker *status.Tracker, exec Executor, opts BridgeOptions) *Bridge {
	if opts.MinGap <= 0 {
		opts.MinGap = 200 * time.Millisecond
	}
	return &Bridge{
		pub:     pub,
		tracker: tracker,
		exec:    exec,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.MinGap), 1),
		now:     time.Now,
		logger:  xlog.WithComponent("mqtt"),
		updates: make(chan status.Snapshot, 1),
	}
}

// StatusChanged queues snap for publishing, replacing any snapshot still
// waiting. It never blocks.
func (b *Bridge) StatusChanged(snap status.Snapshot) {
	for {
		select {
		case b.updates <- snap:
			return
		default:
		}
		select {
		case <-b.updates:
		default:
		}
	}
}

// Run publishes STARTUP, then status updates and heartbeats until ctx is
// done, and finally SHUTDOWN. The shutdown reason is taken from
// context.Cause.
func (b *Bridge) Run(ctx context.Context) error {
	b.publishSystem(EventStartup, "")

	if b.opts.Commands && b.exec != nil {
		if sub, ok := b.pub.(Subscriber); ok {
			if err := sub.SubscribeCommands(func(p []byte) { b.handleCommand(ctx, p) }); err != nil {
				b.logger.Warn().Err(err).Msg("command subscription failed")
			}
		}
	}

	var heartbeat <-chan time.Time
	if b.opts.Heartbeat > 0 {
		t := time.NewTicker(b.opts.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		select {
		case <-ctx.Done():
			b.publishSystem(EventShutdown, shutdownReason(ctx))
			return nil
		case snap := <-b.updates:
			if err := b.limiter.Wait(ctx); err != nil {
				continue
			}
			b.publishStatus(snap)
		case <-heartbeat:
			b.publishSystem(EventHeartbeat, "")
		}
	}
}

func (b *Bridge) refreshConnected() {
	if cs, ok := b.pub.(ConnectionStatus); ok {
		b.tracker.SetMQTTConnected(cs.IsConnected())
	}
}

func (b *Bridge) publishStatus(snap status.Snapshot) {
	b.refreshConnected()
	snap.MQTTConnected = b.tracker.Snapshot().MQTTConnected
	if err := b.pub.PublishStatus(status.FormatStatusEvent(snap, "STATUS", "")); err != nil {
		metrics.MQTTPublishTotal.WithLabelValues("error").Inc()
		b.logger.Warn().Err(err).Str(xlog.FieldEvent, "mqtt.publish_failed").Msg("status publish failed")
		return
	}
	metrics.MQTTPublishTotal.WithLabelValues("ok").Inc()
}

func (b *Bridge) publishSystem(name, reason string) {
	b.refreshConnected()
	snap := b.tracker.Snapshot()
	event := SystemEvent{
		Timestamp:  b.now(),
		Event:      name,
		Reason:     reason,
		Retained:   name != EventHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := b.pub.PublishSystem(event); err != nil {
		metrics.MQTTPublishTotal.WithLabelValues("error").Inc()
		b.logger.Warn().Err(err).Str(xlog.FieldEvent, "mqtt.publish_failed").Str("system_event", name).Msg("system event publish failed")
		return
	}
	metrics.MQTTPublishTotal.WithLabelValues("ok").Inc()
	b.logger.Debug().Str("system_event", name).Msg("published system event")
}

func (b *Bridge) handleCommand(ctx context.Context, payload []byte) {
	reply, err := b.exec.Execute(ctx, "mqtt", string(payload))
	ev := b.logger.Info()
	if err != nil {
		ev = b.logger.Warn().Err(err)
	}
	ev.Str(xlog.FieldEvent, "mqtt.command").Str("command", string(payload)).Str("reply", reply).Msg("command received")
}

func shutdownReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return ""
	}
	return cause.Error()
}
