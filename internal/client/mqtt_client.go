package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/veloverlay/api/internal/config"
	"github.com/veloverlay/api/internal/model"
)

var errNotConnected = errors.New("mqtt not connected")

// MQTTNotifier mirrors job status events to an MQTT broker. Topics:
//
//	<prefix>/status              latest snapshot of any job (retained)
//	<prefix>/jobs/<id>/status    every snapshot of one job
//	<prefix>/jobs/<id>/error     terminal failures
type MQTTNotifier struct {
	cfg    *config.MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	failures  uint64
}

func NewMQTTNotifier(cfg *config.MQTTConfig) *MQTTNotifier {
	return &MQTTNotifier{cfg: cfg}
}

// Connect establishes the broker connection. The client reconnects on its
// own after a later loss.
func (n *MQTTNotifier) Connect(ctx context.Context) error {
	broker := n.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(n.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		n.setConnected(true)
		slog.Info("mqtt connection established", "broker", broker, "client_id", n.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		n.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	n.client = mqtt.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", broker)

	token := n.client.Connect()
	wait := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	n.setConnected(true)
	return nil
}

// PublishStatus sends a job snapshot. Failures are logged, never returned:
// notification loss must not affect the job.
func (n *MQTTNotifier) PublishStatus(snap model.JobSnapshot) {
	payload, err := json.Marshal(model.WSStatusMessage{Type: model.WSMessageTypeStatus, Job: snap})
	if err != nil {
		slog.Warn("mqtt marshal status", "job_id", snap.JobID, "error", err)
		return
	}
	if err := n.publish(n.topic("jobs", snap.JobID, "status"), payload, false); err != nil {
		n.logFailure(snap.JobID, err)
		return
	}
	if err := n.publish(n.topic("status"), payload, true); err != nil {
		n.logFailure(snap.JobID, err)
	}
}

// PublishError sends a terminal failure for a job.
func (n *MQTTNotifier) PublishError(jobID, code, message string) {
	payload, err := json.Marshal(model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{Code: code, Message: message},
	})
	if err != nil {
		return
	}
	if err := n.publish(n.topic("jobs", jobID, "error"), payload, false); err != nil {
		n.logFailure(jobID, err)
	}
}

func (n *MQTTNotifier) publish(topic string, payload []byte, retained bool) error {
	if !n.isConnected() {
		return errNotConnected
	}
	token := n.client.Publish(topic, byte(n.cfg.QoS), retained, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	slog.Debug("mqtt published", "topic", topic, "size", len(payload))
	return nil
}

func (n *MQTTNotifier) topic(parts ...string) string {
	prefix := strings.TrimRight(n.cfg.TopicPrefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// Disconnect closes the broker connection
func (n *MQTTNotifier) Disconnect() {
	if n.client != nil && n.client.IsConnected() {
		n.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	n.setConnected(false)
}

// Failures counts publishes that did not reach the broker.
func (n *MQTTNotifier) Failures() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.failures
}

func (n *MQTTNotifier) logFailure(jobID string, err error) {
	n.mu.Lock()
	n.failures++
	n.mu.Unlock()
	slog.Debug("mqtt publish skipped", "job_id", jobID, "error", err)
}

func (n *MQTTNotifier) setConnected(v bool) {
	n.mu.Lock()
	n.connected = v
	n.mu.Unlock()
}

func (n *MQTTNotifier) isConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}
