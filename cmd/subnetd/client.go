package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hayotensor/subnet/pkg/protocol"
	"github.com/hayotensor/subnet/pkg/session"
	"github.com/hayotensor/subnet/pkg/transport/stack"
)

var (
	clientPayload string
	clientModel   string
	clientPrompt  string
	clientTimeout time.Duration

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "submit one task and stream the result to stdout",
		RunE:  runClient,
	}
)

func init() {
	clientCmd.Flags().StringVar(&clientPayload, "payload", "", "raw payload string (overrides --model/--prompt)")
	clientCmd.Flags().StringVar(&clientModel, "model", "", "model name for a structured payload")
	clientCmd.Flags().StringVar(&clientPrompt, "prompt", "", "prompt for a structured payload")
	clientCmd.Flags().DurationVar(&clientTimeout, "timeout", 0, "optional per-task timeout, e.g. 30s")
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, ctx, cancel, err := setup("client")
	if err != nil {
		return err
	}
	defer cancel()

	reg, format, err := wire(cfg)
	if err != nil {
		return err
	}
	routerTR, err := stack.NewByKind(cfg.Router.Listen.Kind)
	if err != nil {
		return err
	}
	client := &session.Client{
		Transport: routerTR,
		Address:   cfg.Router.Listen.Address,
		Registry:  reg,
		Format:    format,
		Policy:    cfg.Retry.Policy(),
	}

	payload := clientPayload
	if payload == "" {
		b, err := json.Marshal(map[string]string{"model": clientModel, "prompt": clientPrompt})
		if err != nil {
			return err
		}
		payload = string(b)
	}

	req := protocol.NewTaskRequest(session.NewCorrelationID(), payload)
	req.Timeout = clientTimeout
	sess, err := client.SubmitRequest(req)
	if err != nil {
		return err
	}
	defer sess.Close()
	zap.L().Info("submitted task", zap.String("correlation_id", sess.CorrelationID()))

	for frag := range sess.Stream(ctx) {
		if frag.Err != nil {
			fmt.Fprintln(os.Stderr)
			return frag.Err
		}
		fmt.Print(frag.Data)
	}
	fmt.Println()
	return nil
}
