package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"infracontrol/internal/collector"
	"infracontrol/internal/telemetry"
	"infracontrol/internal/utils"
	"infracontrol/internal/version"
)

type options struct {
	port        int
	rootPath    string
	logFile     string
	portForward bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "infracollector",
		Short:        "Serve this host's CPU, memory, disk and uptime for the InfraControl dashboard",
		Version:      version.String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().IntVarP(&opts.port, "port", "p", telemetry.DefaultCollectorPort, "listen port")
	cmd.Flags().StringVar(&opts.rootPath, "disk-path", "/", "filesystem whose usage is reported")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "log file (stderr only when empty)")
	cmd.Flags().BoolVar(&opts.portForward, "port-forward", false, "request a UPnP/NAT-PMP mapping for the listen port")
	return cmd
}

func newServer(opts options) *http.Server {
	c := collector.New()
	c.RootPath = opts.rootPath
	return &http.Server{
		Addr:              ":" + strconv.Itoa(opts.port),
		Handler:           c.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func run(opts options) error {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := utils.NewLogger(opts.logFile)
	defer log.Close()

	srv := newServer(opts)
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", opts.port).Str("disk_path", opts.rootPath).Msg("collector listening")
		serveErr <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var fwd *utils.PortForwarder
	if opts.portForward {
		fwd = utils.NewPortForwarder(opts.port, "infracollector", log)
		if err := fwd.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("port forwarding unavailable")
			fwd = nil
		} else {
			log.Info().Int("external_port", fwd.ExternalPort()).Msg("port forwarding active")
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("collector shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("collector server failed: %w", err)
		}
	}

	if fwd != nil {
		fwd.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("collector forced to shutdown")
	}
	return runErr
}
