package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/paygate/internal/domain"
	"github.com/sirupsen/logrus"
)

// Provider 是注入给计算单元的凭据解析能力。
// 它只能解析授予该单元的引用，没有全局持有明文的单例。
type Provider interface {
	Resolve(ctx context.Context, ref string) (*domain.SecretBundle, error)
}

// Recorder 记录凭据解析结果，由指标模块实现。
type Recorder interface {
	RecordSecretResolution(unit, result string)
}

// Broker 按部署时确定的授权列表向计算单元发放 Provider。
type Broker struct {
	store    Store
	grants   map[string]map[string]struct{} // unit -> refs
	logger   *logrus.Logger
	recorder Recorder
}

// NewBroker 创建密钥访问代理。
// grants 在创建后不可变。
func NewBroker(store Store, grants []domain.SecretGrant, logger *logrus.Logger, recorder Recorder) *Broker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Broker{
		store:    store,
		grants:   make(map[string]map[string]struct{}),
		logger:   logger,
		recorder: recorder,
	}
	for _, g := range grants {
		if b.grants[g.Unit] == nil {
			b.grants[g.Unit] = make(map[string]struct{})
		}
		b.grants[g.Unit][g.Ref] = struct{}{}
	}
	return b
}

// Granted 检查计算单元是否被授予了该引用的读权限。
func (b *Broker) Granted(unit, ref string) bool {
	_, ok := b.grants[unit][ref]
	return ok
}

// ForUnit 返回限定于某个计算单元的 Provider。
// 没有任何授权的单元也会得到 Provider，但所有解析都会被拒绝。
func (b *Broker) ForUnit(unit string) *UnitProvider {
	return &UnitProvider{broker: b, unit: unit}
}

// UnitProvider 是限定于单个计算单元的 Provider。
type UnitProvider struct {
	broker *Broker
	unit   string
}

// Resolve 按引用读取凭据包。
// 每次调用都直接读取存储；同一次调用中解析到的值会登记到上下文中的 Tracker。
func (p *UnitProvider) Resolve(ctx context.Context, ref string) (*domain.SecretBundle, error) {
	entry := p.broker.logger.WithFields(logrus.Fields{
		"unit":       p.unit,
		"secret_ref": ref,
	})

	if !p.broker.Granted(p.unit, ref) {
		p.record("denied")
		entry.Warn("Secret access denied")
		return nil, fmt.Errorf("unit %s: %w: %s", p.unit, domain.ErrSecretAccessDenied, ref)
	}

	bundle, err := p.broker.store.Get(ctx, ref)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSecretNotFound):
			p.record("not_found")
		case errors.Is(err, domain.ErrSecretMalformed):
			p.record("malformed")
		default:
			p.record("error")
		}
		entry.WithError(err).Error("Failed to resolve secret")
		return nil, err
	}

	if t := TrackerFrom(ctx); t != nil {
		t.Add(bundle.Values()...)
	}
	p.record("ok")
	entry.WithField("fields", bundle.FieldNames()).Debug("Secret resolved")
	return bundle, nil
}

func (p *UnitProvider) record(result string) {
	if p.broker.recorder != nil {
		p.broker.recorder.RecordSecretResolution(p.unit, result)
	}
}
