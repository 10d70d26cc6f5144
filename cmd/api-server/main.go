// Command api-server serves the storefront pricing, checkout and coupon API.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/storefront/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		lg.Info("Config loaded",
			zap.String("addr", cfg.Addr),
			zap.String("currency", cfg.Pricing.Currency),
			zap.Bool("payment_sandbox", cfg.Payment.BaseURL == ""),
		)
		return appkg.Run(ctx, lg, m, cfg)
	})
}
