// Command mvnwatchd is the mvnwatch daemon: it wires CacheLayer, LockCache,
// UpstreamFetcher, VersionTracker, BackgroundRefresher and QueryEngine
// together behind the wire protocol HTTP endpoint described in spec.md §6.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/mvnwatch/src/blacklist"
	"github.com/thought-machine/mvnwatch/src/cachelayer"
	"github.com/thought-machine/mvnwatch/src/cli"
	"github.com/thought-machine/mvnwatch/src/config"
	"github.com/thought-machine/mvnwatch/src/filestore"
	"github.com/thought-machine/mvnwatch/src/lockcache"
	"github.com/thought-machine/mvnwatch/src/metrics"
	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/query"
	"github.com/thought-machine/mvnwatch/src/refresher"
	"github.com/thought-machine/mvnwatch/src/stale"
	"github.com/thought-machine/mvnwatch/src/tracker"
	"github.com/thought-machine/mvnwatch/src/upstream"
	"github.com/thought-machine/mvnwatch/src/wire"
)

var log = logging.MustGetLogger("mvnwatchd")

const version = "1.0.0"

var opts struct {
	Usage string `usage:"mvnwatchd tracks Maven release metadata behind a coalescing, persisting, self-refreshing cache."`

	Store struct {
		Path cli.Filepath `short:"s" long:"store" default:"~/.m2/artifacts.json.binary" description:"Path to the binary FileStore file"`
	} `group:"Storage options"`

	Config struct {
		Properties string `short:"c" long:"config" default:"classpath:default.properties" description:"file:<path> or classpath:<path> properties stream"`
	} `group:"Configuration options"`

	Upstream struct {
		IndexBaseURL string `long:"index_url" default:"https://repo1.maven.org/maven2" description:"Base URL of the Maven index this daemon polls"`
		RestBaseURL  string `long:"rest_url" default:"https://search.maven.org/solrsearch" description:"Base URL of the REST search API used for paging"`
	} `group:"Upstream options"`

	Server struct {
		ListenAddress string `short:"l" long:"listen" default:":8080" description:"Address to serve the wire protocol and /metrics endpoint on"`
		Background    bool   `long:"background_refresh" description:"Run the background refresher sweep thread"`
	} `group:"Server options"`
}

func main() {
	cli.ParseFlagsOrDie("mvnwatchd", version, &opts)

	cfg, err := config.Load(opts.Config.Properties)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store := filestore.New(expandHome(string(opts.Store.Path)))
	cache := cachelayer.New(store, cachelayer.DefaultFlushInterval)
	cache.StartFlusher()
	defer cache.Close()

	locks := lockcache.New()

	bl := blacklist.New()
	for _, group := range cfg.BlacklistedGroupIDs {
		if err := bl.AddGroup(group, ".*", blacklist.Regex); err != nil {
			log.Fatalf("failed to apply blacklisted group %q: %v", group, err)
		}
	}

	fetcher := upstream.New(opts.Upstream.IndexBaseURL, opts.Upstream.RestBaseURL, bl)

	versionTracker := tracker.New(cache, locks, fetcher)
	engine := query.New(versionTracker, bl, stalePredicate(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.Server.Background {
		r := refresher.New(cache, locks, fetcher)
		r.MinDelayAfterSuccess = cfg.UpdateDelayAfterSuccess
		r.MinDelayAfterFailure = cfg.UpdateDelayAfterFailure
		r.CheckInterval = cfg.BGUpdateCheckInterval
		r.Start(ctx)
		defer r.Stop()
	}

	mux := http.NewServeMux()
	mux.Handle("/query", wire.Handler(engine))
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{Addr: opts.Server.ListenAddress, Handler: mux}
	go func() {
		log.Infof("mvnwatchd listening on %s", opts.Server.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	waitForShutdown()
	log.Infof("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %v", err)
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

// stalePredicate closes over the configured delays so VersionTracker and
// QueryEngine share the same staleness rule without either needing to know
// about config directly.
func stalePredicate(cfg config.Config) stale.Predicate {
	return func(info *coordinate.VersionInfo, isNewItem bool) bool {
		return stale.IsStale(info, cfg.UpdateDelayAfterSuccess, cfg.UpdateDelayAfterFailure, time.Now().UTC())
	}
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
