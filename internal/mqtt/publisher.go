package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/frontdesk/internal/buildinfo"
	"github.com/nugget/frontdesk/internal/config"
	"github.com/nugget/frontdesk/internal/events"
)

// errNotStarted is returned by connection probes before Start ran.
var errNotStarted = errors.New("mqtt publisher not started")

// forwardedKinds are the bus events mirrored to the broker. Utterances
// and tool traffic stay local because they carry guest details.
var forwardedKinds = map[string]bool{
	events.KindSessionStart:     true,
	events.KindSessionEnd:       true,
	events.KindHold:             true,
	events.KindWake:             true,
	events.KindNudge:            true,
	events.KindIdleClose:        true,
	events.KindCompaction:       true,
	events.KindCompactionFailed: true,
}

// broker is the publishing half of the connection manager.
type broker interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher manages the MQTT connection, publishes HA discovery config
// on (re-)connect, mirrors conversation events, and refreshes sensor
// states on a timer.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	activity   *DailyActivity
	bus        *events.Bus
	logger     *slog.Logger

	// cm is set once Start has dialed; probes read it concurrently.
	cm     atomic.Pointer[autopaho.ConnectionManager]
	client broker
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		activity:   NewDailyActivity(nil),
		bus:        bus,
		logger:     logger,
	}
}

// Activity returns the counters backing the sensor states.
func (p *Publisher) Activity() *DailyActivity {
	return p.activity
}

// Start connects to the MQTT broker and runs the publish loop until
// ctx is cancelled. The bus subscription is taken before connecting so
// events published while the broker is slow to answer are still
// counted.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	sub := p.bus.Subscribe(256)
	defer p.bus.Unsubscribe(sub)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "frontdesk-" + p.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm.Store(cm)
	p.client = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx, sub)
	return nil
}

// Stop publishes "offline" and closes the connection.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return errNotStarted
	}
	return cm.AwaitConnection(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) eventTopic(kind string) string {
	return p.baseTopic() + "/events/" + kind
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensor(entity, name, icon string) SensorConfig {
	return SensorConfig{
		Name:              p.device.Name + " " + name,
		UniqueID:          p.instanceID + "_" + entity,
		StateTopic:        p.stateTopic(entity),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	active := p.sensor("active_conversations", "Active Conversations", "mdi:phone-in-talk")
	active.StateClass = "measurement"

	convs := p.sensor("conversations_today", "Conversations Today", "mdi:phone-log")
	convs.StateClass = "total_increasing"

	tokens := p.sensor("tokens_today", "Tokens Today", "mdi:counter")
	tokens.StateClass = "total_increasing"
	tokens.UnitOfMeasurement = "tokens"

	idle := p.sensor("idle_closes_today", "Idle Hangups Today", "mdi:phone-hangup")
	idle.StateClass = "total_increasing"

	last := p.sensor("last_event", "Last Event", "mdi:clock-check")
	last.EntityCategory = "diagnostic"

	uptime := p.sensor("uptime", "Uptime", "mdi:clock-outline")
	uptime.EntityCategory = "diagnostic"

	version := p.sensor("version", "Version", "mdi:tag")
	version.EntityCategory = "diagnostic"

	return []sensorDef{
		{"active_conversations", active},
		{"conversations_today", convs},
		{"tokens_today", tokens},
		{"idle_closes_today", idle},
		{"last_event", last},
		{"uptime", uptime},
		{"version", version},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, b broker) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entity)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if _, err := b.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published", "entity", s.entity, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, b broker, status string) {
	if _, err := b.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Event and state loop ---

func (p *Publisher) runLoop(ctx context.Context, sub <-chan events.Event) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			p.handleEvent(ctx, e)
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// handleEvent counts e and mirrors it to the broker when its kind is
// forwarded. Session boundaries also refresh the sensor states so the
// active count does not wait for the next tick.
func (p *Publisher) handleEvent(ctx context.Context, e events.Event) {
	p.activity.Observe(e)
	if !forwardedKinds[e.Kind] || p.client == nil {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	if _, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   p.eventTopic(e.Kind),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "kind", e.Kind, "error", err)
	}

	if e.Kind == events.KindSessionStart || e.Kind == events.KindSessionEnd {
		p.publishStates(ctx)
	}
}

func (p *Publisher) states() map[string]string {
	a := p.activity.Snapshot()
	states := map[string]string{
		"active_conversations": strconv.Itoa(a.Active),
		"conversations_today":  strconv.FormatInt(a.ConversationsDay, 10),
		"tokens_today":         strconv.FormatInt(a.TokensDay, 10),
		"idle_closes_today":    strconv.FormatInt(a.IdleClosesDay, 10),
		"uptime":               buildinfo.Uptime().String(),
		"version":              buildinfo.Version,
		"last_event":           "never",
	}
	if !a.LastEvent.IsZero() {
		states["last_event"] = a.LastEvent.Format(time.RFC3339)
	}
	return states
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.client == nil {
		return
	}

	states := p.states()
	for entity, value := range states {
		if _, err := p.client.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
