package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"iptrack/internal/app/bootstrap"
	"iptrack/internal/app/server"
	"iptrack/internal/app/version"
	"iptrack/internal/config"
	"iptrack/internal/metrics"
	"iptrack/internal/support"
)

const defaultPort = 8082

// Run executes the iptrack command line.
func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found. Falling back to system environment variables.")
	}
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	cmdRoot := &cobra.Command{
		Use:               "iptrack",
		Short:             "Track, flag and block client IP addresses",
		Version:           version.BuildVersion(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}

	cmdRoot.AddCommand(
		NewServeCmd(),
		NewBlockCmd(),
		NewUnblockCmd(),
		NewPromoteCmd(),
		NewDetectCmd(),
		NewTokenCmd(),
	)

	return cmdRoot
}

func NewServeCmd() *cobra.Command {
	var (
		port       int
		production bool
	)

	cmdServe := &cobra.Command{
		Use:               "serve",
		Short:             "Run the API server and the scheduled jobs",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("port") {
				port = resolvePort("IPTRACK_PORT", "PORT", port)
			}
			return serve(cmd.Context(), port, production)
		},
	}

	flags := cmdServe.Flags()
	flags.IntVar(&port, "port", defaultPort, "Port for the API server")
	flags.BoolVar(&production, "production", false, "Run in production mode")

	return cmdServe
}

func serve(parent context.Context, port int, production bool) error {
	if parent == nil {
		parent = context.Background()
	}

	config.SetProductionMode(production)
	logCloser := support.ConfigureLogging(production)
	defer logCloser.Close()

	metrics.Register()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup()
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			log.Warn("error releasing resources", "error", err)
		}
	}()

	components.StartBackgroundJobs(ctx)

	srv := server.New(
		components.Store,
		components.Blocklist,
		components.Pipeline,
		components.Detector,
		server.WithRedis(components.Redis),
	)

	err = srv.ListenAndServe(ctx, port)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
