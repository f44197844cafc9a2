// Command sealrpc-ping calls System.Ping on a server, optionally after logging in.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"sealed-rpc/client"
	"sealed-rpc/discovery"
	"sealed-rpc/loadbalance"
	"sealed-rpc/message"
	"sealed-rpc/system"
	"sealed-rpc/transport"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:9000", "server address, or service name with -etcd")
		kind     = flag.String("transport", discovery.TransportTCP, "tcp or http")
		etcd     = flag.String("etcd", "", "comma-separated etcd endpoints; -addr is then a service name")
		balancer = flag.String("balancer", loadbalance.StrategyConsistentHash, "endpoint selection strategy with -etcd")
		name     = flag.String("name", "sealrpc-ping", "client name")
		apiKey   = flag.String("api-key", "", "service API key")
		login    = flag.Bool("login", false, "log in and ping with an Encrypted payload")
		retries  = flag.Int("retries", 2, "retries on transient network errors")
		timeout  = flag.Duration("timeout", 10*time.Second, "overall deadline")
		verbose  = flag.Bool("v", false, "log payloads")
	)
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	if err := run(*addr, *kind, *etcd, *balancer, *name, *apiKey, *login, *retries, *timeout, logger); err != nil {
		fmt.Fprintln(os.Stderr, "sealrpc-ping:", err)
		os.Exit(1)
	}
}

func run(addr, kind, etcd, balancer, name, apiKey string, login bool, retries int, timeout time.Duration, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	tcp := transport.NewTCP(transport.WithTCPLogger(logger))
	defer tcp.Close()
	adapters := map[string]transport.Adapter{
		discovery.TransportTCP:  transport.WithRetry(tcp, retries, 100*time.Millisecond, logger),
		discovery.TransportHTTP: transport.WithRetry(transport.NewHTTP(nil), retries, 100*time.Millisecond, logger),
	}

	var adapter transport.Adapter
	if etcd != "" {
		reg, err := discovery.NewEtcdRegistry(strings.Split(etcd, ","), logger)
		if err != nil {
			return err
		}
		defer reg.Close()
		bal, err := loadbalance.ByName(balancer)
		if err != nil {
			return err
		}
		adapter = transport.NewDiscovered(reg, bal, adapters, logger)
	} else {
		a, ok := adapters[kind]
		if !ok {
			return fmt.Errorf("unknown transport %q", kind)
		}
		adapter = a
	}

	c, err := client.New(client.Remote(adapter, addr),
		client.WithAPIKey(apiKey),
		client.WithLogger(logger),
		client.WithObserver(client.LogObserver(logger)))
	if err != nil {
		return err
	}

	format := message.Plain
	if login {
		sess, err := c.Login(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("session %s valid until %s\n", sess.AccessToken, sess.ExpiresAt.Format(time.RFC3339))
		format = message.Encrypted
	}

	start := time.Now()
	var out system.PingResponse
	if err := c.Call(ctx, system.MethodPing, system.PingRequest{ClientName: name}, &out, format); err != nil {
		return err
	}
	fmt.Printf("%s from %s in %s (server time %s)\n", out.Status, addr, time.Since(start).Round(time.Microsecond), out.ServerTime.Format(time.RFC3339))
	return nil
}
