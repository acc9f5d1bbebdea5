package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atendezap/atendezap/internal/core_domain"
	"github.com/google/uuid"
)

// MockProvider simulates a gateway for local runs and wiring tests.
type MockProvider struct {
	logger       *slog.Logger
	shouldFail   bool
	failureCause core_domain.ProviderErrorCause
	delay        time.Duration
}

func NewMockProvider(logger *slog.Logger, shouldFail bool, failureCause core_domain.ProviderErrorCause, delay time.Duration) *MockProvider {
	return &MockProvider{
		logger:       logger.With("provider", "mock"),
		shouldFail:   shouldFail,
		failureCause: failureCause,
		delay:        delay,
	}
}

func (p *MockProvider) GetName() core_domain.Provider { return core_domain.Provider("mock") }

func (p *MockProvider) Send(ctx context.Context, gw *core_domain.GatewayConfig, details SendRequestDetails) (*SendResponseDetails, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.shouldFail {
		return &SendResponseDetails{IsSuccess: false, ProviderStatus: "FAILED_MOCK"},
			&core_domain.ProviderError{Provider: p.GetName(), Cause: p.failureCause, Message: "mock provider configured to fail"}
	}
	msgID := fmt.Sprintf("mock-%s", uuid.NewString())
	p.logger.InfoContext(ctx, "Mock provider send", "recipient", details.Phone, "type", details.Type, "provider_message_id", msgID)
	return &SendResponseDetails{
		IsSuccess:         true,
		ProviderMessageID: msgID,
		ChatID:            details.Phone + "@c.us",
		ProviderStatus:    "SENT_MOCK",
	}, nil
}

func (p *MockProvider) CheckContact(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	return phone + "@c.us", nil
}

func (p *MockProvider) ResolveContact(ctx context.Context, gw *core_domain.GatewayConfig, maskedID string) (string, error) {
	if p.shouldFail {
		return "", ErrContactNotResolved
	}
	return "5545999990000", nil
}

func (p *MockProvider) FetchAvatar(ctx context.Context, gw *core_domain.GatewayConfig, phone string) (string, error) {
	if p.shouldFail {
		return "", ErrAvatarUnavailable
	}
	return "https://pps.whatsapp.net/mock/" + phone, nil
}
