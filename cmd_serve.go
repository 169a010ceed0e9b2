package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"deployguard/config"
	"deployguard/internal/metrics"
	"deployguard/internal/server"
)

const shutdownGrace = 10 * time.Second

var serveFlags struct {
	host string
	port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis API over HTTP",
	Long: `Start the HTTP API: /api/analyze (multipart upload), /api/analyze/json,
/api/analyze/stream (server-sent progress events), /api/health and the
Prometheus /metrics endpoint.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.host, "host", "", "listen host (default from config)")
	f.IntVarP(&serveFlags.port, "port", "p", 0, "listen port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.AppConfig
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	opts, err := pipelineOptions(cfg, metrics.New())
	if err != nil {
		return err
	}
	srv, err := server.New(opts, server.Limits{
		MaxFileSize: cfg.Analysis.MaxFileSize,
		MaxFiles:    cfg.Analysis.MaxFiles,
	})
	if err != nil {
		return err
	}

	host, port := cfg.Server.Host, cfg.Server.Port
	if serveFlags.host != "" {
		host = serveFlags.host
	}
	if serveFlags.port != 0 {
		port = serveFlags.port
	}
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting server on %s...", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-cmd.Context().Done():
	}

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}
