// Command voiceforge runs the multi-turn voice assistant test engine: the
// HTTP API, the execution worker, migrations and one-off scenario runs.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/VoiceForge/internal/config"
	"github.com/Strob0t/VoiceForge/internal/logger"
)

// App carries state shared by all subcommands.
type App struct {
	ConfigPath string
	Config     *config.Config

	logCloser logger.Closer
}

func main() {
	os.Exit(execute())
}

func execute() int {
	app := &App{}
	root := newRootCommand(app)
	err := root.Execute()
	if app.logCloser != nil {
		app.logCloser.Close()
	}
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	slog.Error("fatal", "error", err)
	return 1
}

func newRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "voiceforge",
		Short:         "Multi-turn, multi-language voice assistant test engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			path := app.ConfigPath
			if path == "" {
				path = config.DefaultConfigFile
				if p := os.Getenv("VOICEFORGE_CONFIG"); p != "" {
					path = p
				}
			}
			cfg, err := config.LoadFrom(path)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			app.Config = cfg

			log, closer := logger.New(cfg.Logging)
			slog.SetDefault(log)
			app.logCloser = closer
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&app.ConfigPath, "config", "c", "", "path to voiceforge.yaml")

	root.AddCommand(
		newServeCommand(app),
		newWorkerCommand(app),
		newMigrateCommand(app),
		newRunCommand(app),
	)
	return root
}

// exitError makes a command exit non-zero without being logged as a failure.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
