package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume execution requests from NATS and run them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := wire(ctx, app.Config, wireOptions{queue: true})
			if err != nil {
				return err
			}
			defer st.Close()

			cancel, err := st.dispatch.StartWorker(ctx)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			slog.Info("worker started", "max_concurrent", app.Config.Worker.MaxConcurrent)

			<-ctx.Done()
			slog.Info("worker stopping, waiting for running executions")
			cancel()
			st.dispatch.Wait()
			return nil
		},
	}
}
