package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Publisher 发布事件，EventBus 实现该接口。
type Publisher interface {
	Publish(ctx context.Context, subject string, event *Event) error
}

// InvocationRecord 是一次计算单元调用的审计记录。
type InvocationRecord struct {
	RequestID  string `json:"request_id"`
	Unit       string `json:"unit"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"duration_ms"`
}

// ThrottleRecord 是一次限流拒绝的审计记录。
type ThrottleRecord struct {
	RequestID    string `json:"request_id,omitempty"`
	Method       string `json:"method"`
	Path         string `json:"path"`
	RetryAfterMs int64  `json:"retry_after_ms"`
}

// defaultQueueSize 审计队列容量
const defaultQueueSize = 1024

type pending struct {
	subject string
	event   *Event
}

// Auditor 异步发布审计事件。
// 请求路径只把事件放入有界队列，队列满时丢弃并记录警告，发布失败不会影响请求。
type Auditor struct {
	pub    Publisher
	logger *logrus.Logger
	source string
	clock  func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan pending
	wg     sync.WaitGroup
}

// NewAuditor 创建审计发布器并启动后台发布协程。pub 为空时所有记录都被忽略。
func NewAuditor(pub Publisher, logger *logrus.Logger) *Auditor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &Auditor{
		pub:    pub,
		logger: logger,
		source: "paygate-gateway",
		clock:  time.Now,
		queue:  make(chan pending, defaultQueueSize),
	}
	if pub != nil {
		a.wg.Add(1)
		go a.run()
	}
	return a
}

// Invocation 记录一次计算单元调用。
func (a *Auditor) Invocation(rec InvocationRecord) {
	a.enqueue(SubjectInvocation+"."+rec.Unit, "invocation.completed", rec)
}

// ThrottleRejected 记录一次限流拒绝。
func (a *Auditor) ThrottleRejected(rec ThrottleRecord) {
	a.enqueue(SubjectThrottleRejects, "throttle.rejected", rec)
}

func (a *Auditor) enqueue(subject, typ string, v interface{}) {
	if a == nil || a.pub == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to encode audit event")
		return
	}
	ev := &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Source:    a.source,
		Subject:   subject,
		Data:      data,
		Timestamp: a.clock(),
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- pending{subject: subject, event: ev}:
	default:
		a.logger.WithField("subject", subject).Warn("Audit queue full, event dropped")
	}
}

func (a *Auditor) run() {
	defer a.wg.Done()
	for p := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.pub.Publish(ctx, p.subject, p.event); err != nil {
			a.logger.WithError(err).WithField("subject", p.subject).Warn("Failed to publish audit event")
		}
		cancel()
	}
}

// Close 停止接收新事件并等待队列中的事件发布完成。
func (a *Auditor) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.closed || a.pub == nil {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
