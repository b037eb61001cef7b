package payment

import (
	"fmt"

	"github.com/rs/zerolog"

	"club-entitlements/internal/config"
	"club-entitlements/internal/domain/ports/adapter"
)

// New builds the configured processor's gateway (instrumented) and its
// webhook parser.
func New(cfg config.BillingConfig, logger *zerolog.Logger) (adapter.BillingGateway, adapter.WebhookParser, error) {
	switch cfg.Gateway {
	case "sandbox", "":
		logger.Warn().Msg("using sandbox billing gateway; no real charges are made")
		return Instrument(NewSandboxGateway(cfg.Sandbox.PeriodDays)),
			NewSandboxWebhookParser(cfg.Sandbox.WebhookSecret, cfg.SignatureTolerance), nil
	case "paddle":
		g, err := NewPaddleGateway(cfg.Paddle)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Bool("sandbox", cfg.Paddle.Sandbox).Msg("using paddle billing gateway")
		return Instrument(g), NewPaddleWebhookParser(cfg.Paddle.WebhookSecret), nil
	default:
		return nil, nil, fmt.Errorf("unsupported billing gateway %q", cfg.Gateway)
	}
}
