package trust

import (
	"context"

	"go.uber.org/zap"
)

// UnsignedPolicy resolves empty credentials. The agent must be configured
// to accept unsigned clients. Only suitable for trusted kiosk setups.
type UnsignedPolicy struct {
	logger *zap.Logger
}

// NewUnsignedPolicy creates an unsigned policy
func NewUnsignedPolicy(logger *zap.Logger) *UnsignedPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnsignedPolicy{logger: logger}
}

// Name implements Policy
func (p *UnsignedPolicy) Name() string {
	return "unsigned"
}

// Certificate implements Policy
func (p *UnsignedPolicy) Certificate(ctx context.Context) (string, error) {
	p.logger.Warn("certificates disabled, using unsigned mode (insecure)")
	return "", nil
}

// Sign implements Policy
func (p *UnsignedPolicy) Sign(ctx context.Context, payload string) (string, error) {
	return "", nil
}
