package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the summarize and run history API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := []api.Option{}
		if origins, _ := cmd.Flags().GetString("cors-origins"); origins != "" {
			opts = append(opts, api.WithAllowedOrigins(splitAndTrim(origins)...))
		}
		st, err := initStore(ctx)
		if err != nil {
			zap.L().Warn("run history unavailable, /v1/runs disabled", zap.Error(err))
		} else {
			defer st.Close() //nolint:errcheck
			opts = append(opts, api.WithRunStore(st))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.New(opts...).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("server listening", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default: server.port)")
	serveCmd.Flags().String("cors-origins", "", "comma-separated allowed CORS origins (default: *)")
	rootCmd.AddCommand(serveCmd)
}
