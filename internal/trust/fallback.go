package trust

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// FallbackPolicy tries each tier in order and keeps the first one whose
// certificate resolves. When every tier fails it downgrades to unsigned
// only if the configured origin host is loopback.
type FallbackPolicy struct {
	tiers      []Policy
	originHost string
	logger     *zap.Logger

	mu     sync.Mutex
	active Policy
}

// NewFallbackPolicy chains tiers for a client served from originHost
func NewFallbackPolicy(originHost string, logger *zap.Logger, tiers ...Policy) *FallbackPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackPolicy{
		tiers:      tiers,
		originHost: originHost,
		logger:     logger,
	}
}

// Name implements Policy
func (p *FallbackPolicy) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		return "fallback:" + p.active.Name()
	}
	return "fallback"
}

// Active returns the tier selected by the last Certificate call
func (p *FallbackPolicy) Active() Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Certificate implements Policy
func (p *FallbackPolicy) Certificate(ctx context.Context) (string, error) {
	var errs []error

	for _, tier := range p.tiers {
		cert, err := tier.Certificate(ctx)
		if err == nil {
			p.setActive(tier)
			p.logger.Info("trust established", zap.String("tier", tier.Name()))
			return cert, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn("trust tier failed", zap.String("tier", tier.Name()), zap.Error(err))
		errs = append(errs, err)
	}

	if IsLoopback(p.originHost) {
		p.logger.Warn("all signing tiers failed, downgrading to unsigned on loopback host",
			zap.String("origin", p.originHost))
		unsigned := NewUnsignedPolicy(p.logger)
		p.setActive(unsigned)
		return unsigned.Certificate(ctx)
	}

	p.setActive(nil)
	return "", fmt.Errorf("%w: %w", ErrNoTrust, errors.Join(errs...))
}

// Sign implements Policy using the tier selected by Certificate
func (p *FallbackPolicy) Sign(ctx context.Context, payload string) (string, error) {
	active := p.Active()
	if active == nil {
		return "", ErrNoTrust
	}
	return active.Sign(ctx, payload)
}

func (p *FallbackPolicy) setActive(policy Policy) {
	p.mu.Lock()
	p.active = policy
	p.mu.Unlock()
}
