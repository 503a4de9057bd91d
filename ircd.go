package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/horgh/relayd/internal/bus"
	"github.com/horgh/relayd/internal/command"
	"github.com/horgh/relayd/internal/ident"
	"github.com/horgh/relayd/internal/metrics"
	"github.com/horgh/relayd/internal/relaylog"
	"github.com/horgh/relayd/internal/session"
	"github.com/horgh/relayd/internal/state"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long the metrics server gets to finish requests.
const shutdownTimeout = 5 * time.Second

// Daemon holds the state for a server.
type Daemon struct {
	config   *Config
	logger   *zerolog.Logger
	services *session.Services

	// TCP listener for clients and servers.
	listener net.Listener

	// Optional listener for the Prometheus endpoint.
	metricsListener net.Listener

	// sessions tracks running sessions so we wait for them on shutdown.
	sessions sync.WaitGroup
}

func main() {
	os.Exit(run())
}

func run() int {
	args, err := getArgs(os.Args[0], os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	config, err := loadConfig(args.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration problem: %s\n", err)
		return 1
	}

	level := config.LogLevel
	if args.LogLevel != "" {
		level = args.LogLevel
	}
	logger := relaylog.New(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("unable to start")
		return 1
	}

	if err := d.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return 1
	}

	logger.Info().Msg("server shutdown cleanly")
	return 0
}

// newDaemon builds the shared services and opens the listeners.
func newDaemon(config *Config, logger *zerolog.Logger) (*Daemon, error) {
	d := &Daemon{
		config: config,
		logger: logger,
		services: &session.Services{
			Config: session.Config{
				ServerID:    config.TS6SID,
				Hostname:    config.ServerName,
				ServerInfo:  config.ServerInfo,
				NetworkName: config.NetworkName,
				Version:     config.Version,
				Secrets:     config.Secrets(),
			},
			Registries: state.NewRegistries(),
			Bus:        bus.New(bus.DefaultCapacity),
			Allocator:  ident.NewAllocator(),
			Dispatcher: command.NewClientDispatcher(),
			Logger:     logger,
		},
	}

	// TODO: TLS
	ln, err := net.Listen("tcp", config.ListenAddress())
	if err != nil {
		return nil, errors.Wrap(err, "unable to listen")
	}
	d.listener = ln

	if config.MetricsListen != "" {
		mln, err := net.Listen("tcp", config.MetricsListen)
		if err != nil {
			_ = ln.Close()
			return nil, errors.Wrap(err, "unable to listen for metrics")
		}
		d.metricsListener = mln
	}

	return d, nil
}

// Addr is the address we accept connections on.
func (d *Daemon) Addr() net.Addr {
	return d.listener.Addr()
}

// MetricsAddr is the Prometheus endpoint's address, or nil if disabled.
func (d *Daemon) MetricsAddr() net.Addr {
	if d.metricsListener == nil {
		return nil
	}
	return d.metricsListener.Addr()
}

// Run accepts connections until ctx is done or a listener fails. It returns
// once every session has ended.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var metricsServer *http.Server
	if d.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			d.logger.Info().Str("addr", d.metricsListener.Addr().String()).
				Msg("serving metrics")
			err := metricsServer.Serve(d.metricsListener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
	}

	g.Go(func() error {
		return d.acceptConnections(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		d.logger.Info().Msg("server shutdown initiated")

		if err := d.listener.Close(); err != nil {
			d.logger.Debug().Err(err).Msg("problem closing listener")
		}

		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				shutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				d.logger.Warn().Err(err).Msg("problem stopping metrics server")
			}
		}
		return nil
	})

	err := g.Wait()

	// Sessions saw ctx end as well and are telling their connections.
	d.sessions.Wait()

	return err
}

// acceptConnections accepts TCP connections and starts a session for each.
func (d *Daemon) acceptConnections(ctx context.Context) error {
	d.logger.Info().Str("addr", d.listener.Addr().String()).
		Str("sid", d.config.TS6SID.String()).Strs("opers", d.config.Opers).
		Msg("listening")

	var id uint64

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				d.logger.Info().Msg("connection accepter shutting down")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "listener closed")
			}
			d.logger.Warn().Err(err).Msg("failed to accept connection")
			continue
		}

		id++
		metrics.RecordConnection()

		s := session.New(id, conn, d.services)

		d.sessions.Add(1)
		go func() {
			defer d.sessions.Done()
			if err := s.Run(ctx); err != nil {
				d.logger.Info().Err(err).Str("session", s.String()).
					Msg("session ended with error")
			}
		}()
	}
}
