package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/agentloop/internal/gateway"
	"github.com/user/agentloop/internal/types"
)

var (
	runConversation string
	runUser         string
	runLight        bool
)

func init() {
	runCmd.Flags().StringVar(&runConversation, "conversation", "cli:default", "conversation key to append to")
	runCmd.Flags().StringVar(&runUser, "user", "", "participant name (default $USER)")
	runCmd.Flags().BoolVar(&runLight, "light", false, "use the light model")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <message>",
	Short: "Send one message and print the replies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := setupLogging(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		spec := a.spec
		spec.LightModel = runLight
		gw := gateway.New(a.conversations, a.histories, a.caller, spec,
			gateway.WithLogger(logger),
			gateway.WithConcurrency(1),
			gateway.WithRunTimeout(a.runTimeout()),
		)
		gw.Start(ctx)
		defer gw.Stop()

		user := runUser
		if user == "" {
			user = os.Getenv("USER")
		}
		msg := &types.InboundMessage{
			Source:   "cli",
			Key:      types.ConversationKey(runConversation),
			UserName: user,
			Text:     strings.Join(args, " "),
		}

		done := make(chan error, 1)
		out := cmd.OutOrStdout()
		err = gw.HandleInbound(ctx, msg,
			gateway.WithOnReply(func(text string) { fmt.Fprintln(out, text) }),
			gateway.WithOnDone(func(err error) { done <- err }),
		)
		if err != nil {
			return err
		}

		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}
			return nil
		case <-ctx.Done():
			return errors.New("interrupted")
		}
	},
}
