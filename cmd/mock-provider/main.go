package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/mockapi"
)

type config struct {
	Port     int    `env:"MOCK_PORT" envDefault:"8081"`
	Accounts int    `env:"MOCK_ACCOUNTS" envDefault:"5"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("mock-provider", "debug", cfg.AppEnv)

	api := mockapi.New()
	for i := 1; i <= cfg.Accounts; i++ {
		a := mockapi.Account{
			UserID:       fmt.Sprintf("%d", 1000+i),
			MSISDN:       fmt.Sprintf("09%08d", i),
			Token:        fmt.Sprintf("token-%d", i),
			RefreshToken: fmt.Sprintf("refresh-%d", i),
			TotalPoint:   int64(i * 250),
			Balance:      decimal.NewFromInt(int64(i * 1500)),
		}
		// Every other account has points waiting.
		if i%2 == 1 {
			a.ClaimID = fmt.Sprintf("claim-%d", i)
		}
		api.AddAccount(a)
		slog.Info("seeded account", "user_id", a.UserID, "msisdn", a.MSISDN, "token", a.Token)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("mock provider started", "addr", addr, "base_path", mockapi.BasePath, "auth_base_path", mockapi.AuthBasePath)
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
