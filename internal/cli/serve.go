package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/a9lim/shannon/internal/app"
	"github.com/a9lim/shannon/internal/config"
)

var (
	serveConfigPath string
	serveLogLevel   string
	serveDryRun     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config YAML file")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "Don't call the LLM, echo messages instead")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveLogLevel != "" {
		cfg.LogLevel = serveLogLevel
	}
	setupLogging(cfg.LogLevel)

	application, err := app.New(cfg, serveDryRun)
	if err != nil {
		return err
	}

	fmt.Println(color.CyanString("Shannon") + " starting — provider: " + cfg.LLM.Provider + ", model: " + cfg.LLM.Model)
	if serveDryRun {
		fmt.Println(color.YellowString("Dry-run mode: no LLM calls will be made."))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return application.Run(ctx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
