// Command registration runs the registration core: the write side of
// the fabric that accepts resource advertisements, heartbeats and
// deletes, and the background garbage collector that reaps anything
// left behind by a node that stopped heartbeating.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bbc/nmos-discovery-registration-ri/internal/collector"
	"github.com/bbc/nmos-discovery-registration-ri/internal/regapi"
	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
	"github.com/bbc/nmos-discovery-registration-ri/pkg/admin"
	"github.com/bbc/nmos-discovery-registration-ri/pkg/flags"
)

func main() {
	cmd := flag.NewFlagSet("registration", flag.ExitOnError)

	addr := cmd.String("addr", ":8000", "address to serve the registration API on")
	metricsAddr := cmd.String("metrics-addr", ":8001", "address to serve scrapable metrics on")
	substrateAddr := cmd.String("substrate-addr", "http://127.0.0.1:2379/v2/keys/", "base URL of the etcd-compatible substrate")
	substrateTimeout := cmd.Duration("substrate-timeout", 5*time.Second, "timeout applied to every substrate request")
	rootPrefix := cmd.String("api-root", "x-nmos", "API root path segment")
	healthTTL := cmd.Duration("health-ttl", regapi.DefaultHealthTTL, "liveness key TTL renewed by each heartbeat")
	collectorInterval := cmd.Duration("collector-interval", collector.DefaultInterval, "interval between garbage collection passes")
	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")
	schemaDir := cmd.String("schema-dir", "", "optional directory of <kind>/<version>.json overrides, hot-reloaded on change")

	flags.ConfigureAndParse(cmd, os.Args[1:])

	var ready atomic.Bool
	adminServer := admin.NewServer(*metricsAddr, *enablePprof, &ready)
	go func() {
		log.Infof("starting admin server on %s", *metricsAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server error: %s", err)
		}
	}()

	sub := substrate.NewClient(*substrateAddr, *substrateTimeout)

	catalogue, err := schema.NewCatalogue()
	if err != nil {
		log.Fatalf("failed to load schema catalogue: %s", err)
	}

	identity := processIdentity()

	if *schemaDir != "" {
		watcher := schema.NewWatcher(*schemaDir, catalogue, log.WithField("component", "schema-watcher"))
		go func() {
			if err := watcher.Run(context.Background()); err != nil {
				log.Errorf("schema watcher error: %s", err)
			}
		}()
	}

	srv := regapi.NewServer(regapi.Config{
		RootPrefix: *rootPrefix,
		HealthTTL:  *healthTTL,
	}, sub, catalogue, log.WithField("component", "regapi"))

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 15 * time.Second,
	}

	coll := collector.New(sub, identity, log.WithField("component", "collector"))
	coll.SetInterval(*collectorInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go coll.Run(ctx)

	go func() {
		log.Infof("starting registration API on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("registration API server error: %s", err)
		}
	}()

	ready.Store(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down registration core")
	coll.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	adminServer.Shutdown(shutdownCtx)
}

func processIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "registration"
	}
	return host
}
