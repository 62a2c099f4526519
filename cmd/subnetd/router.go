package main

import (
	"github.com/spf13/cobra"

	"github.com/hayotensor/subnet/pkg/proxy"
	"github.com/hayotensor/subnet/pkg/transport/stack"
)

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "run the routing proxy",
	Long: `Run the routing proxy. It accepts task requests, forwards each one
downstream over a fresh connection and relays response messages back to
the caller as they arrive.`,
	RunE: runRouter,
}

func runRouter(cmd *cobra.Command, _ []string) error {
	cfg, ctx, cancel, err := setup("router")
	if err != nil {
		return err
	}
	defer cancel()

	reg, format, err := wire(cfg)
	if err != nil {
		return err
	}
	downTR, err := stack.NewByKind(cfg.Router.Downstream.Kind)
	if err != nil {
		return err
	}
	listenTR, err := stack.NewByKind(cfg.Router.Listen.Kind)
	if err != nil {
		return err
	}
	l, err := listenTR.Listen(ctx, cfg.Router.Listen.Address)
	if err != nil {
		return err
	}
	defer l.Close()

	srv := proxy.New(reg, format, downTR, cfg.Router.Downstream.Address, cfg.Router.Retry.Policy())
	err = srv.Serve(ctx, l)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
