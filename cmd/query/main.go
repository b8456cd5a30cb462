// Command query runs the query core: the read side of the fabric
// serving GET/subscriptions/websocket traffic, fed by a change-feed
// consumer that keeps attached subscribers in sync with the substrate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bbc/nmos-discovery-registration-ri/internal/changefeed"
	"github.com/bbc/nmos-discovery-registration-ri/internal/queryapi"
	"github.com/bbc/nmos-discovery-registration-ri/internal/schema"
	"github.com/bbc/nmos-discovery-registration-ri/internal/subscription"
	"github.com/bbc/nmos-discovery-registration-ri/internal/substrate"
	"github.com/bbc/nmos-discovery-registration-ri/pkg/admin"
	"github.com/bbc/nmos-discovery-registration-ri/pkg/flags"
)

func main() {
	cmd := flag.NewFlagSet("query", flag.ExitOnError)

	addr := cmd.String("addr", ":8002", "address to serve the query API on")
	metricsAddr := cmd.String("metrics-addr", ":8003", "address to serve scrapable metrics on")
	substrateAddr := cmd.String("substrate-addr", "http://127.0.0.1:2379/v2/keys/", "base URL of the etcd-compatible substrate")
	substrateTimeout := cmd.Duration("substrate-timeout", 5*time.Second, "timeout applied to every substrate request")
	rootPrefix := cmd.String("api-root", "x-nmos", "API root path segment")
	wsHost := cmd.String("ws-advertise-addr", "", "host:port advertised in ws_href; defaults to the value of -addr")
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

	if *schemaDir != "" {
		watcher := schema.NewWatcher(*schemaDir, catalogue, log.WithField("component", "schema-watcher"))
		go func() {
			if err := watcher.Run(context.Background()); err != nil {
				log.Errorf("schema watcher error: %s", err)
			}
		}()
	}

	store := &queryapi.SubstrateStore{Substrate: sub}

	advertise := *wsHost
	if advertise == "" {
		advertise = *addr
	}
	wsHrefBase := fmt.Sprintf("ws://%s/%s/query", advertise, *rootPrefix)

	manager := subscription.NewManager(catalogue, store, wsHrefBase, log.WithField("component", "subscription"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := changefeed.New(sub, substrate.ResourceRootKey, manager.DisconnectAll, log.WithField("component", "changefeed"))
	go feed.Run(ctx)
	go func() {
		for ev := range feed.Events() {
			manager.Dispatch(ev)
		}
	}()

	srv := queryapi.NewServer(queryapi.Config{RootPrefix: *rootPrefix}, sub, catalogue, manager, log.WithField("component", "queryapi"))

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Infof("starting query API on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("query API server error: %s", err)
		}
	}()

	ready.Store(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down query core")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	adminServer.Shutdown(shutdownCtx)
}
