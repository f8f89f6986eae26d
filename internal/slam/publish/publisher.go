// Package publish broadcasts session poses and keyframes over MQTT.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/lidarmap/internal/monitoring"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/slam/session"
)

// DefaultTopicPrefix is the root of every published topic.
const DefaultTopicPrefix = "lidarmap"

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher writes pose updates to <prefix>/<session>/pose and keyframes to
// <prefix>/<session>/keyframe. It satisfies session.PoseSink and
// session.KeyframeSink.
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewPublisher wraps client. An empty prefix uses DefaultTopicPrefix.
func NewPublisher(client Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		qos:     0, // fire and forget; the next pose supersedes a lost one
		timeout: 2 * time.Second,
	}
}

// Dial connects to broker and returns the client.
func Dial(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	if clientID == "" {
		clientID = "lidarmap"
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("mqtt: connection lost: %v", err)
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connecting to %s: timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", broker, err)
	}
	monitoring.Logf("mqtt: connected to %s as %s", broker, clientID)
	return c, nil
}

// Topic returns the topic for kind within a session.
func (p *Publisher) Topic(sessionID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", p.prefix, sessionID, kind)
}

func (p *Publisher) publish(ctx context.Context, topic string, retain bool, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(p.timeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// PublishPose implements session.PoseSink. The latest pose is retained.
func (p *Publisher) PublishPose(ctx context.Context, u session.PoseUpdate) error {
	return p.publish(ctx, p.Topic(u.SessionID, "pose"), true, u)
}

// KeyframeMessage is the keyframe payload. From and Relative are set when
// the keyframe has a predecessor.
type KeyframeMessage struct {
	SessionID string       `json:"session_id"`
	Key       int          `json:"key"`
	Seq       uint32       `json:"seq"`
	Stamp     time.Time    `json:"stamp"`
	Pose      geom.Pose6D  `json:"pose"`
	Points    int          `json:"points"`
	From      int          `json:"from,omitempty"`
	Relative  *geom.Pose6D `json:"relative,omitempty"`
}

// KeyframePublisher binds a Publisher to one session for keyframe messages.
type KeyframePublisher struct {
	*Publisher
	SessionID string
}

// AddKeyframe implements session.KeyframeSink.
func (k KeyframePublisher) AddKeyframe(ctx context.Context, kf session.Keyframe) error {
	msg := KeyframeMessage{
		SessionID: k.SessionID,
		Key:       kf.Key,
		Seq:       kf.Seq,
		Stamp:     kf.Stamp,
		Pose:      kf.Pose,
		Points:    kf.Points,
	}
	if c := kf.Constraint; c != nil {
		msg.From = c.From
		rel := c.Relative
		msg.Relative = &rel
	}
	return k.publish(ctx, k.Topic(k.SessionID, "keyframe"), false, msg)
}

// Close disconnects the client.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}
