// Command riotpd is the RIOTp broker daemon: it loads configuration,
// wires up credentials, logging, and the plain/TLS accept pipelines,
// and runs until a termination signal arrives. Grounded on the
// teacher's ingesters/SimpleRelay main.go bootstrap (config load →
// logger setup → capability check → listener start → signal wait →
// graceful shutdown), with the manual WaitGroup/select/timeout
// shutdown dance replaced by golang.org/x/sync/errgroup, which the
// teacher's own go.mod already lists as a dependency without putting
// it to use in that particular command.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riotp/broker/actor"
	"github.com/riotp/broker/broker"
	"github.com/riotp/broker/caps"
	"github.com/riotp/broker/config"
	"github.com/riotp/broker/creds"
	"github.com/riotp/broker/log"
	"github.com/riotp/broker/ratelimit"
	"github.com/riotp/broker/sysutil"
	"github.com/riotp/broker/tlsaccept"
)

const (
	defaultConfigLoc  = `/opt/riotpd/etc/riotpd.conf`
	defaultConfigDLoc = `/opt/riotpd/etc/riotpd.conf.d`
)

var (
	confLoc  = flag.String("config-file", defaultConfigLoc, "Location for configuration file")
	confdLoc = flag.String("config-overlays", defaultConfigDLoc, "Location for configuration overlay files")
)

func main() {
	flag.Parse()

	cfg, err := config.GetConfig(*confLoc, *confdLoc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lg, err := newLogger(cfg.Global.Log_File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	if err := lg.SetLevelString(cfg.Global.Log_Level); err != nil {
		lg.FatalCode(1, "invalid Log-Level", log.KV("level", cfg.Global.Log_Level), log.KVErr(err))
	}

	credentials, err := newCredentials(cfg, lg)
	if err != nil {
		lg.FatalCode(1, "failed to initialize credentials backend", log.KVErr(err))
	}

	if !caps.Has(caps.NET_BIND_SERVICE) {
		lg.Warn("missing capability", log.KV("capability", "NET_BIND_SERVICE"), log.KV("warning", "may not be able to bind to privileged ports"))
	}

	pool := actor.NewPool(cfg.Global.Worker_Count)
	defer pool.Stop()

	srv := broker.New(pool, credentials, lg, cfg.Global.Max_Write_Queue)

	accept := func(conn net.Conn) {
		if cfg.Global.Max_Conn_Bps > 0 {
			// one Parent per connection, so each connection gets its own cap
			conn = ratelimit.NewParent(cfg.Global.Max_Conn_Bps, 1).NewThrottleConn(conn)
		}
		srv.HandleConn(conn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	var plainLn net.Listener
	if cfg.Global.Bind_String != `` {
		plainLn, err = net.Listen("tcp", cfg.Global.Bind_String)
		if err != nil {
			lg.FatalCode(1, "failed to bind plain listener", log.KV("bind", cfg.Global.Bind_String), log.KVErr(err))
		}
		eg.Go(func() error { return servePlain(egCtx, plainLn, accept) })
	}

	var tlsLn net.Listener
	if cfg.Global.TLS_Bind_String != `` {
		tlsCfg, err := tlsaccept.LoadTLSConfig(cfg.Global.Cert_File, cfg.Global.Key_File, cfg.Global.Key_Password)
		if err != nil {
			lg.FatalCode(1, "failed to load TLS configuration", log.KVErr(err))
		}
		tlsLn, err = net.Listen("tcp", cfg.Global.TLS_Bind_String)
		if err != nil {
			lg.FatalCode(1, "failed to bind TLS listener", log.KV("bind", cfg.Global.TLS_Bind_String), log.KVErr(err))
		}
		acc := tlsaccept.NewAcceptor(tlsLn, tlsCfg, lg, accept)
		eg.Go(func() error { return acc.Serve(egCtx) })
	}

	lg.Info("riotpd running", log.KV("bind", cfg.Global.Bind_String), log.KV("tls-bind", cfg.Global.TLS_Bind_String))

	sig := sysutil.WaitForQuit()
	lg.Info("received termination signal", log.KV("signal", sig.String()), log.KV("active-sessions", srv.SessionCount()))

	cancel()
	srv.Stop(nil)

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- eg.Wait() }()
	select {
	case err := <-shutdownDone:
		if err != nil {
			lg.Error("error during shutdown", log.KVErr(err))
		}
	case <-time.After(5 * time.Second):
		lg.Error("timed out waiting for listeners to stop")
	}
	lg.Info("riotpd exiting")
}

func newLogger(path string) (*log.Logger, error) {
	if path == `` {
		return log.New(os.Stderr), nil
	}
	return log.NewFile(path)
}

func newCredentials(cfg *config.CfgType, lg *log.Logger) (creds.Credentials, error) {
	switch cfg.Global.Credentials_Mode {
	case config.CredentialsModeJWT:
		return creds.NewJWT(cfg.Global.JWT_Secret), nil
	default:
		return creds.NewFlatFile(cfg.Global.Credentials_File, lg)
	}
}

func servePlain(ctx context.Context, ln net.Listener, accept func(net.Conn)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		accept(conn)
	}
}
