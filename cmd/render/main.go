package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/livepeer/catalyst-render/api"
	"github.com/livepeer/catalyst-render/config"
	"github.com/livepeer/catalyst-render/janitor"
	"github.com/livepeer/catalyst-render/job"
	"github.com/livepeer/catalyst-render/manifest"
	"github.com/livepeer/catalyst-render/queue"
	"github.com/livepeer/catalyst-render/runner"
	"github.com/livepeer/catalyst-render/webhook"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	fs := flag.NewFlagSet("catalyst-render", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")
	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind the Submission/Control API to")
	fs.StringVar(&cli.TranscodedRoot, "transcoded-root", "/data/transcoded", "Root directory under which per-job staging directories are created")
	fs.StringVar(&cli.TranscoderBinary, "transcoder-binary", "ffmpeg", "Path to the ffmpeg binary")
	fs.StringVar(&cli.PackagerBinary, "packager-binary", "packager", "Path to the Shaka Packager binary")
	fs.StringVar(&cli.RedisURL, "redis-url", "", "Redis URL used for cross-worker locking; empty runs an in-memory lock for single-worker/dev deployments")
	fs.StringVar(&cli.DatabaseURL, "database-url", "", "Postgres connection string for the Job Store; empty runs an in-memory Store for single-worker/dev deployments")
	fs.StringVar(&cli.TemplatesFile, "templates-file", "", "Path to the YAML Job Template bundle; empty disables named-template submissions")
	fs.IntVar(&cli.WebhookMaxRetries, "webhook-max-retries", 0, "Parsed but not applied: webhook delivery always retries until the endpoint accepts it")
	fs.IntVar(&cli.PromPort, "prom-port", 9091, "Prometheus metrics listen port")
	fs.StringVar(&cli.JanitorSchedule, "janitor-schedule", janitor.DefaultSchedule, "Cron schedule on which to sweep transcoded-root for orphaned staging directories")

	err = ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("RENDER"))
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if *version {
		fmt.Printf("catalyst-render version: %s", config.Version)
		return
	}

	config.TranscoderBinary = cli.TranscoderBinary
	config.PackagerBinary = cli.PackagerBinary
	config.TranscodedRoot = cli.TranscodedRoot

	group, ctx := errgroup.WithContext(context.Background())

	store, err := newJobStore(cli)
	if err != nil {
		glog.Fatalf("error creating job store: %s", err)
	}

	templates, err := job.NewTemplateStore(cli.TemplatesFile, cli.TemplatesFile != "")
	if err != nil {
		glog.Fatalf("error loading job templates: %s", err)
	}
	defer templates.Close()

	redisClient, err := newRedisClient(cli)
	if err != nil {
		glog.Fatalf("error creating redis client: %s", err)
	}

	locker := newLocker(redisClient)

	notifier := webhook.New()
	merger := manifest.New()
	revoker := queue.NewRevoker(redisClient)
	defer revoker.Close()

	renditionRunner := runner.New(store, notifier, merger, locker, revoker)
	dispatcher := queue.NewInProcessDispatcher(renditionRunner)

	server := api.NewServer(store, templates, dispatcher, revoker)

	sweeper, err := janitor.New(cli.TranscodedRoot, store, cli.JanitorSchedule)
	if err != nil {
		glog.Fatalf("error creating janitor: %s", err)
	}

	group.Go(func() error {
		return listenAndServeAPI(ctx, cli.HTTPAddress, server)
	})
	group.Go(func() error {
		return listenAndServeMetrics(ctx, cli.PromPort)
	})
	group.Go(func() error {
		return runJanitor(ctx, sweeper)
	})
	group.Go(func() error {
		return handleSignals(ctx)
	})

	err = group.Wait()
	glog.Infof("shutdown complete, reason: %s", err)
}

func newJobStore(cli config.Cli) (job.Store, error) {
	if cli.DatabaseURL == "" {
		return job.NewMemoryStore(), nil
	}
	return job.NewPostgresStore(cli.DatabaseURL)
}

// newRedisClient returns nil, nil when no Redis URL is configured: every
// collaborator that takes a *redis.Client falls back to an in-process
// single-worker mode in that case.
func newRedisClient(cli config.Cli) (*redis.Client, error) {
	if cli.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cli.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func newLocker(client *redis.Client) queue.Locker {
	if client == nil {
		return queue.NewInMemoryLocker()
	}
	return queue.NewRedisLocker(client)
}

func listenAndServeAPI(ctx context.Context, addr string, server *api.Server) error {
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		glog.Infof("Submission/Control API listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func runJanitor(ctx context.Context, sweeper *janitor.Janitor) error {
	sweeper.Start()
	<-ctx.Done()
	sweeper.Stop()
	return nil
}

func listenAndServeMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		glog.Infof("metrics listening on :%d", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
