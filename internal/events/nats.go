// Package events 提供网关审计事件总线。
// 当前实现基于 NATS JetStream：网关在计算单元调用完成和请求被限流时发布审计事件，
// 运维工具可以订阅这些事件。事件中不包含请求体、响应体或任何凭据值。
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// 审计事件的 Stream 与 subject
const (
	StreamName = "GATEWAY_EVENTS"

	SubjectPrefix          = "gateway."
	SubjectInvocation      = "gateway.invocation"
	SubjectThrottleRejects = "gateway.throttle.rejected"
)

// Event 表示网关审计事件（JSON 格式）。
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventHandler 定义事件处理回调。
type EventHandler func(event *Event) error

// EventBus 封装 NATS/JetStream 连接与发布/订阅操作。
type EventBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Logger
}

// NewEventBus 连接 NATS 并确保审计 Stream 存在（保留 7 天）。
func NewEventBus(natsURL string, logger *logrus.Logger) (*EventBus, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("paygate"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	}
	if _, err := js.AddStream(cfg); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		if _, err := js.UpdateStream(cfg); err != nil {
			logger.WithError(err).Warn("Failed to create or update audit stream")
		}
	}

	return &EventBus{conn: nc, js: js, logger: logger}, nil
}

// Ping 报告 NATS 连接状态，供就绪探针使用。
func (eb *EventBus) Ping(ctx context.Context) error {
	if st := eb.conn.Status(); st != nats.CONNECTED {
		return fmt.Errorf("nats %s", st)
	}
	return eb.conn.FlushWithContext(ctx)
}

// Close 关闭底层 NATS 连接。
func (eb *EventBus) Close() error {
	eb.conn.Close()
	return nil
}

// Publish 发布事件到指定 subject。
func (eb *EventBus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := eb.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	eb.logger.WithFields(logrus.Fields{
		"subject":  subject,
		"event_id": event.ID,
		"type":     event.Type,
	}).Debug("Event published")
	return nil
}

// Subscribe 订阅匹配 subject 的事件（支持通配符），只接收订阅之后的新事件。
// ctx 取消时自动取消订阅。
func (eb *EventBus) Subscribe(ctx context.Context, subject string, handler EventHandler) error {
	sub, err := eb.js.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			eb.logger.WithError(err).Error("Failed to unmarshal event")
			msg.Term()
			return
		}
		if err := handler(&event); err != nil {
			eb.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to handle event")
			msg.Nak()
			return
		}
		msg.Ack()
	}, nats.DeliverNew(), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return nil
}
