package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/asistente/internal/buildinfo"
	"github.com/nugget/asistente/internal/config"
	"github.com/nugget/asistente/internal/events"
)

// connectTimeout bounds the wait for the first broker connection.
const connectTimeout = 30 * time.Second

// Publisher owns the broker connection and mirrors the assistant's
// status into retained sensor topics.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	status     *Status
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and follow the bus.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		status:     &Status{},
		logger:     logger,
	}
}

// Status returns the accumulated sensor status.
func (p *Publisher) Status() *Status {
	return p.status
}

// Start connects to the broker and republishes sensor states after each
// relevant bus event. It blocks until ctx is cancelled. Broker outages
// are retried in the background and never fail the session.
func (p *Publisher) Start(ctx context.Context, bus *events.Bus) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

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
			p.publishStates(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "asistente-" + p.instanceID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	cancel()

	bus.Consume(ctx, 32, func(e events.Event) {
		if p.status.Observe(e) {
			p.publishStates(ctx, cm)
		}
	})
	return nil
}

// Stop publishes "offline" and disconnects. ctx bounds both.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return errors.New("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

// executionTopic carries the last execution record as JSON. The
// last_command sensor reads its attributes from it.
func (p *Publisher) executionTopic() string {
	return p.baseTopic() + "/last_execution"
}

func (p *Publisher) discoveryTopic(entity string) string {
	return p.cfg.DiscoveryPrefix + "/sensor/" + p.cfg.DeviceName + "/" + entity + "/config"
}

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	sensor := func(entity, label, icon string) SensorConfig {
		return SensorConfig{
			Name:              p.device.Name + " " + label,
			UniqueID:          p.instanceID + "_" + entity,
			StateTopic:        p.stateTopic(entity),
			AvailabilityTopic: p.availabilityTopic(),
			Device:            p.device,
			Icon:              icon,
		}
	}

	last := sensor(entityLastCommand, "Último comando", "mdi:microphone-message")
	last.JsonAttributesTopic = p.executionTopic()

	stage := sensor(entityLastStage, "Etapa", "mdi:call-split")
	stage.EntityCategory = "diagnostic"

	commands := sensor(entityCommands, "Comandos", "mdi:counter")
	commands.StateClass = "total_increasing"

	failures := sensor(entityFailures, "Fallos", "mdi:alert-circle-outline")
	failures.StateClass = "total_increasing"

	trigger := sensor(entityLastTrigger, "Último disparo", "mdi:alarm")

	version := sensor(entityVersion, "Versión", "mdi:tag")
	version.EntityCategory = "diagnostic"

	return []sensorDef{
		{entityLastCommand, last},
		{entityLastStage, stage},
		{entityCommands, commands},
		{entityFailures, failures},
		{entityLastTrigger, trigger},
		{entityVersion, version},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		topic := p.discoveryTopic(s.entity)
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
			continue
		}
		p.logger.Debug("mqtt discovery published", "entity", s.entity, "topic", topic)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

func (p *Publisher) publishStates(ctx context.Context, cm *autopaho.ConnectionManager) {
	states := p.status.States(buildinfo.Version)
	for entity, value := range states {
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}

	attrs, err := p.status.Attributes()
	if err != nil {
		p.logger.Warn("mqtt marshal attributes", "error", err)
	} else if attrs != nil {
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.executionTopic(),
			Payload: attrs,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt attributes publish failed", "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
