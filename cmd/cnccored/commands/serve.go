package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cncjs/cnc-core/internal/controller"
	"github.com/cncjs/cnc-core/internal/engine"
	"github.com/cncjs/cnc-core/internal/logx"
)

var flagListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cnccored daemon",
	Long: `Run the cnccored daemon: load configuration, start the WebSocket
Engine, and wire the configured event-trigger bindings.

Configuration (cnc.yaml in the config directory):
  listen_addr: :8000
  jwt_secret: ...
  users: [{id: ..., name: ..., enabled: true}]
  ports: [{path: /dev/ttyUSB0, manufacturer: FTDI}]
  baud_rates: [115200]
  macros: [{id: home, name: Home, content: "$H\n"}]
  events:
    startup: [{gcode: ["$$"]}]

Examples:
  cnccored serve
  cnccored serve --listen :9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListenAddr, "listen", "", "address to listen on (overrides cnc.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if IsVerbose() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := GetConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagListenAddr != "" {
		cfg.ListenAddr = flagListenAddr
	}

	logger := logx.Default("cnccored")
	registry := controller.NewRegistry()

	eng, err := engine.New(engine.Options{
		Config:   cfg,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", eng.Handler())
	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Infof("shutting down")
		return server.Close()
	}
}
