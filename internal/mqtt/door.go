package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/notify"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/service"
)

// Broker is the part of Client the door adapters use.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

var _ Broker = (*Client)(nil)

// handlerTimeout bounds the work a subscription handler starts.
const handlerTimeout = 30 * time.Second

// DoorMessage is the payload of change broadcasts and door events.
type DoorMessage struct {
	DoorID string    `json:"door_id"`
	Event  string    `json:"event"`
	Time   time.Time `json:"time"`
}

const (
	EventCredentialsChanged = "credentials_changed"
	EventOpened             = "opened"
)

// ── Credential change broadcast ──────────────────────────────────────────────

// ChangeBroadcaster tells the other doors of the site that this door's
// credential store changed. It subscribes to the local change signal.
type ChangeBroadcaster struct {
	broker Broker
	topic  string
	doorID string
	qos    byte
}

var _ service.Subscriber = (*ChangeBroadcaster)(nil)

func NewChangeBroadcaster(b Broker, topics Topics, doorID string, qos byte) *ChangeBroadcaster {
	return &ChangeBroadcaster{broker: b, topic: topics.CredentialsChanged(), doorID: doorID, qos: qos}
}

func (c *ChangeBroadcaster) OnChange(context.Context) error {
	payload, err := json.Marshal(DoorMessage{DoorID: c.doorID, Event: EventCredentialsChanged, Time: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.broker.Publish(c.topic, payload, c.qos, false)
}

// Refresher is implemented by service.SyncAgent.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ListenForChanges refreshes r whenever another door broadcasts a credential
// change. Broadcasts from doorID itself are ignored. The refresh is called
// directly rather than through the local change signal, which would
// broadcast again.
func ListenForChanges(b Broker, topics Topics, doorID string, qos byte, r Refresher, logger *slog.Logger) error {
	log := componentLogger(logger, "change_listener")
	return b.Subscribe(topics.CredentialsChanged(), qos, func(_ string, payload []byte) error {
		var msg DoorMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode change broadcast: %w", err)
		}
		if msg.DoorID == doorID {
			return nil
		}
		log.Info("credential change broadcast received", "from", msg.DoorID)

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		return r.Refresh(ctx)
	})
}

// ── Door-open button and door events ─────────────────────────────────────────

// ListenForOpen releases the door whenever a message arrives on the door's
// open topic. The payload is ignored.
func ListenForOpen(b Broker, topics Topics, doorID string, qos byte, o service.Opener, logger *slog.Logger) error {
	log := componentLogger(logger, "door_button")
	return b.Subscribe(topics.DoorOpen(doorID), qos, func(string, []byte) error {
		log.Info("open requested over mqtt", "door_id", doorID)

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		return o.Open(ctx)
	})
}

// DoorEvents publishes an opened event each time the door events signal
// fires.
type DoorEvents struct {
	broker Broker
	topic  string
	doorID string
	qos    byte
}

var _ service.Subscriber = (*DoorEvents)(nil)

func NewDoorEvents(b Broker, topics Topics, doorID string, qos byte) *DoorEvents {
	return &DoorEvents{broker: b, topic: topics.DoorEvents(doorID), doorID: doorID, qos: qos}
}

func (d *DoorEvents) OnChange(context.Context) error {
	payload, err := json.Marshal(DoorMessage{DoorID: d.doorID, Event: EventOpened, Time: time.Now().UTC()})
	if err != nil {
		return err
	}
	return d.broker.Publish(d.topic, payload, d.qos, false)
}

// ── Notification sink ────────────────────────────────────────────────────────

// LogSink posts notifications as retained messages on the per-level log
// topic, so an operator console connecting later still sees the latest
// message of each level.
type LogSink struct {
	broker Broker
	topics Topics
	qos    byte
}

var (
	_ notify.Notifier = (*LogSink)(nil)
	_ notify.Clearer  = (*LogSink)(nil)
)

func NewLogSink(b Broker, topics Topics, qos byte) *LogSink {
	return &LogSink{broker: b, topics: topics, qos: qos}
}

func (s *LogSink) Notify(_ context.Context, msg notify.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.broker.Publish(s.topics.Log(msg.Level), payload, s.qos, true)
}

// Clear removes the retained message of level.
func (s *LogSink) Clear(_ context.Context, level notify.Level) error {
	return s.broker.Publish(s.topics.Log(level), nil, s.qos, true)
}

func componentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}
