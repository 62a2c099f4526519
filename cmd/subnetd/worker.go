package main

import (
	"github.com/spf13/cobra"

	"github.com/hayotensor/subnet/pkg/transport/stack"
	"github.com/hayotensor/subnet/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "run a task worker",
	Long: `Run a task worker. Each configured model is served by a mock
generator that streams canned tokens; requests naming an unregistered
model receive a single error message.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, ctx, cancel, err := setup("worker")
	if err != nil {
		return err
	}
	defer cancel()

	reg, format, err := wire(cfg)
	if err != nil {
		return err
	}
	models := worker.NewRegistry()
	for _, name := range cfg.Worker.Models {
		models.Register(name, worker.NewMockLLM(name))
	}

	listenTR, err := stack.NewByKind(cfg.Worker.Listen.Kind)
	if err != nil {
		return err
	}
	l, err := listenTR.Listen(ctx, cfg.Worker.Listen.Address)
	if err != nil {
		return err
	}
	defer l.Close()

	srv := worker.New(reg, format, models, cfg.Worker.DefaultModel)
	err = srv.Serve(ctx, l)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
