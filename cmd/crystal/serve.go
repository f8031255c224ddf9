package crystal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognidex/crystal/pkg/config"
	"github.com/cognidex/crystal/pkg/logger"
	"github.com/cognidex/crystal/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the crystallization engine and its HTTP surface",
	Long: `Start the engine's batch loop together with the HTTP server.

The server provides endpoints for:
- Posting observation batches and triggering flushes
- Querying entities by tier, fact units, and fact chains
- Reviewing held promotions and fact conflicts
- Inspecting batch history, store stats, and orphans
- Health checks

Configuration can be provided through config files, environment variables,
or command-line flags.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "Server host")
	serveCmd.Flags().Int("port", 8080, "Server port")
	serveCmd.Flags().String("mode", "debug", "Server mode (debug, release, test)")

	serveCmd.Flags().String("db-driver", "memory", "Graph store driver (memory, neo4j)")
	serveCmd.Flags().String("db-uri", "", "Graph store URI")
	serveCmd.Flags().String("db-username", "", "Graph store username")
	serveCmd.Flags().String("db-password", "", "Graph store password")
	serveCmd.Flags().String("badger-path", "", "Path for the embedded audit/watermark database")
	serveCmd.Flags().String("ontology-table", "", "Path to the YAML ontology code table")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)

	log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)

	log.Info("initializing engine", "driver", cfg.Database.Driver)
	deps, err := initializeEngine(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	srv := server.New(cfg, deps.client, deps.queue)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	engineErrChan := make(chan error, 1)
	go func() {
		engineErrChan <- deps.client.Run(engineCtx)
	}()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		engineCancel()
		return fmt.Errorf("server error: %w", err)
	case err := <-engineErrChan:
		return fmt.Errorf("engine error: %w", err)
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		engineCancel()
		<-engineErrChan

		if err := deps.client.Close(shutdownCtx); err != nil {
			return fmt.Errorf("engine close error: %w", err)
		}
		log.Info("stopped gracefully")
		return nil
	}
}

// overrideConfigWithFlags applies explicitly set command-line flags on top
// of the loaded configuration.
func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode, _ = cmd.Flags().GetString("mode")
	}
	if cmd.Flags().Changed("db-driver") {
		cfg.Database.Driver, _ = cmd.Flags().GetString("db-driver")
	}
	if cmd.Flags().Changed("db-uri") {
		cfg.Database.URI, _ = cmd.Flags().GetString("db-uri")
	}
	if cmd.Flags().Changed("db-username") {
		cfg.Database.Username, _ = cmd.Flags().GetString("db-username")
	}
	if cmd.Flags().Changed("db-password") {
		cfg.Database.Password, _ = cmd.Flags().GetString("db-password")
	}
	if cmd.Flags().Changed("badger-path") {
		cfg.Badger.Path, _ = cmd.Flags().GetString("badger-path")
	}
	if cmd.Flags().Changed("ontology-table") {
		cfg.Ontology.TablePath, _ = cmd.Flags().GetString("ontology-table")
	}
}
