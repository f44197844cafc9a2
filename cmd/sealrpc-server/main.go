// Command sealrpc-server serves the System handlers over framed TCP and, optionally, HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sealed-rpc/config"
	"sealed-rpc/discovery"
	"sealed-rpc/server"
	"sealed-rpc/session"
	"sealed-rpc/system"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "sealrpc-server:", err)
			os.Exit(1)
		}
	}
	logger, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sealrpc-server:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := cfg.Pipeline(nil)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.Keys.SessionTTL, session.WithLogger(logger))
	go store.Run(ctx, time.Minute)

	var keys session.KeyResolver = store
	var sysOpts []system.Option
	if cfg.Keys.Mode == config.KeyModeShared {
		shared, err := cfg.SharedKey()
		if err != nil {
			return err
		}
		keys = session.SharedKey{Key: shared}
		sysOpts = append(sysOpts, system.WithSharedKey(shared))
	}
	sysOpts = append(sysOpts, system.WithLogger(logger))
	svc, err := system.New(store, pipeline.Algorithm(), sysOpts...)
	if err != nil {
		return err
	}

	reg := server.NewRegistry()
	if err := svc.Register(reg); err != nil {
		return err
	}
	if err := reg.Freeze(); err != nil {
		return err
	}
	d, err := server.NewDispatcher(reg, pipeline,
		server.WithLogger(logger),
		server.WithProduction(cfg.Production),
		server.WithKeys(keys),
		server.WithAuthenticator(session.NewCredentials(store, cfg.Server.APIKeys...)),
		server.WithMiddleware(cfg.Middlewares(logger)...))
	if err != nil {
		return err
	}
	logger.Info("dispatcher ready", zap.Strings("methods", reg.Methods()), zap.Stringer("codec", pipeline))

	var registry discovery.Registry
	if len(cfg.Discovery.EtcdEndpoints) > 0 {
		etcd, err := discovery.NewEtcdRegistry(cfg.Discovery.EtcdEndpoints, logger)
		if err != nil {
			return err
		}
		defer etcd.Close()
		registry = etcd
	}

	errc := make(chan error, 2)

	var tcp *server.Server
	if cfg.Server.Listen != "" {
		opts := []server.ServerOption{server.WithServerLogger(logger)}
		if registry != nil {
			opts = append(opts, server.WithDiscovery(registry, cfg.Discovery.Service, cfg.Server.Advertise, cfg.Discovery.TTLSeconds))
		}
		tcp = server.NewServer(d, opts...)
		go func() { errc <- tcp.Serve("tcp", cfg.Server.Listen) }()
	}

	var web *http.Server
	if cfg.Server.HTTPListen != "" {
		l, err := net.Listen("tcp", cfg.Server.HTTPListen)
		if err != nil {
			return err
		}
		web = &http.Server{Handler: server.NewHTTPHandler(d, logger), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := web.Serve(l); !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
		logger.Info("serving http", zap.Stringer("addr", l.Addr()))
		if registry != nil && cfg.Server.Listen == "" {
			ep := discovery.Endpoint{Addr: l.Addr().String(), Transport: discovery.TransportHTTP, Weight: 1}
			if cfg.Server.Advertise != "" {
				ep.Addr = cfg.Server.Advertise
			}
			if err := registry.Register(ctx, cfg.Discovery.Service, ep, cfg.Discovery.TTLSeconds); err != nil {
				return err
			}
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
	}

	if tcp != nil {
		if serr := tcp.Shutdown(10 * time.Second); serr != nil {
			logger.Warn("tcp shutdown", zap.Error(serr))
		}
	}
	if web != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := web.Shutdown(sctx); serr != nil {
			logger.Warn("http shutdown", zap.Error(serr))
		}
	}
	return err
}
