package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hayotensor/subnet/pkg/gateway"
	"github.com/hayotensor/subnet/pkg/session"
	"github.com/hayotensor/subnet/pkg/transport/stack"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "run the HTTP JSON-RPC gateway",
	Long: `Run the HTTP gateway. POST /jsonrpc accepts submit_task envelopes and
streams one newline-delimited response envelope per message; /metrics
exposes Prometheus counters.`,
	RunE: runGateway,
}

func runGateway(cmd *cobra.Command, _ []string) error {
	cfg, ctx, cancel, err := setup("gateway")
	if err != nil {
		return err
	}
	defer cancel()

	reg, format, err := wire(cfg)
	if err != nil {
		return err
	}
	routerTR, err := stack.NewByKind(cfg.Gateway.Router.Kind)
	if err != nil {
		return err
	}
	client := &session.Client{
		Transport: routerTR,
		Address:   cfg.Gateway.Router.Address,
		Registry:  reg,
		Format:    format,
		Policy:    cfg.Retry.Policy(),
	}

	srv := &http.Server{
		Addr:    cfg.Gateway.Listen,
		Handler: gateway.New(client, cfg.Gateway.AllowList).Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("gateway listening", zap.String("addr", cfg.Gateway.Listen))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
