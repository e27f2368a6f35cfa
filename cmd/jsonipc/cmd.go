package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-jsonipc/internal/config"
	"github.com/lightforgemedia/go-jsonipc/internal/demo"
	"github.com/lightforgemedia/go-jsonipc/pkg/client"
	"github.com/lightforgemedia/go-jsonipc/pkg/dispatcher"
	"github.com/lightforgemedia/go-jsonipc/pkg/natsrelay"
	"github.com/lightforgemedia/go-jsonipc/pkg/server"
	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jsonipc",
		Short:   "Talk Jsonipc over WebSocket",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(cmd)
	cmd.AddCommand(
		&cobra.Command{
			Use:   "call <method> [json-param...]",
			Short: "Send one request and print its result",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runCall,
		},
		&cobra.Command{
			Use:   "listen <method...>",
			Short: "Print notifications until interrupted",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runListen,
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the demo project over Jsonipc",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "relay",
			Short: "Bridge a Jsonipc connection onto NATS",
			Args:  cobra.NoArgs,
			RunE:  runRelay,
		},
	)
	return cmd
}

// setup loads and validates the configuration and installs the logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	level, _ := cfg.Log.SlogLevel()
	logger := newLogger(cmd.ErrOrStderr(), level, cfg.Log.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, level slog.Level, asJSON bool) *slog.Logger {
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			noColor = false
		}
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    noColor,
	}))
}

func openClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...client.Option) (*client.Client, error) {
	c := client.New(append([]client.Option{
		client.WithLogger(logger),
		client.WithRequestTimeout(cfg.Client.RequestTimeout),
		client.WithWriteTimeout(cfg.Client.WriteTimeout),
		client.WithReadLimit(cfg.Client.ReadLimit),
	}, opts...)...)
	if err := c.Open(ctx, cfg.URL, cfg.Protocols...); err != nil {
		if c.Connected() {
			_ = c.Close()
		}
		return nil, err
	}
	return c, nil
}

// parseParams reads each argument as JSON, falling back to a plain string.
func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			v = arg
		}
		params = append(params, v)
	}
	return params
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	c, err := openClient(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Send(cmd.Context(), args[0], parseParams(args[1:])...)
	if err != nil {
		return err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	closed := make(chan error, 1)
	c, err := openClient(cmd.Context(), cfg, logger, client.WithOnClose(func(err error) { closed <- err }))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, method := range args {
		c.Receive(method, func(params ...any) {
			raw, err := json.Marshal(params)
			if err != nil {
				logger.Error("Failed to encode notification", "method", method, "error", err)
				return
			}
			fmt.Fprintf(out, "%s %s\n", method, raw)
		})
	}
	c.HandleBinary(func(data []byte) {
		fmt.Fprintf(out, "binary %d bytes\n", len(data))
	})

	select {
	case <-cmd.Context().Done():
		return c.Close()
	case err := <-closed:
		if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			return nil
		}
		return fmt.Errorf("connection lost: %w", err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	slog.Info("jsonipc serve", "version", cmd.Root().Annotations["version"], "commit", cmd.Root().Annotations["commit"])

	d := dispatcher.New(logger)
	srv := server.New(d,
		server.WithLogger(logger),
		server.WithReadLimit(cfg.Client.ReadLimit),
		server.WithConcurrentDispatch(cfg.Serve.Concurrent),
	)
	demo.NewProject(srv.Notify).Register(d)

	mux := http.NewServeMux()
	mux.Handle(cfg.Serve.Path, srv)
	httpServer := &http.Server{
		Addr:              cfg.Serve.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.Serve.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Serve.Listen, err)
	}
	slog.Info("Serving Jsonipc", "url", "ws://"+listener.Addr().String()+cfg.Serve.Path)

	errGrp, ctx := errgroup.WithContext(cmd.Context())
	errGrp.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	errGrp.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopGrp := errgroup.Group{}
		stopGrp.Go(func() error { return srv.Shutdown(shutdownCtx) })
		stopGrp.Go(func() error { return httpServer.Shutdown(shutdownCtx) })
		return stopGrp.Wait()
	})
	if err := errGrp.Wait(); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	closed := make(chan error, 1)
	c, err := openClient(cmd.Context(), cfg, logger, client.WithOnClose(func(err error) { closed <- err }))
	if err != nil {
		return err
	}
	defer func() {
		if c.Connected() {
			_ = c.Close()
		}
	}()

	relay, err := natsrelay.New(c, natsrelay.Options{
		URL:            cfg.NATS.URL,
		Prefix:         cfg.NATS.Prefix,
		QueueName:      cfg.NATS.Queue,
		RequestTimeout: cfg.Client.RequestTimeout,
		Logger:         logger,
		ConnectionOptions: []nats.Option{
			nats.Name("jsonipc-relay"),
			nats.MaxReconnects(-1),
		},
	})
	if err != nil {
		return err
	}
	defer relay.Close()

	for _, method := range cfg.NATS.Forward {
		relay.Forward(method)
	}
	if err := relay.Start(cmd.Context()); err != nil {
		return err
	}

	select {
	case <-cmd.Context().Done():
		return nil
	case err := <-closed:
		return fmt.Errorf("connection lost: %w", err)
	}
}
