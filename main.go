package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ogxcoders/videopress/api"
	"github.com/ogxcoders/videopress/clients"
	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/log"
	"github.com/ogxcoders/videopress/pipeline"
	"github.com/ogxcoders/videopress/queue"
	"github.com/ogxcoders/videopress/worker"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("videopress", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	fs.StringVar(&cli.Mode, "mode", "all", "Mode to run the application in. Options: api, worker, all")
	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind the intake API to")

	fs.StringVar(&cli.APIKey, "api-key", "", "Auth secret expected in the X-API-Key header")
	fs.StringVar(&cli.AdminPassword, "admin-password", "", "Password for the admin inspection UI")
	fs.StringVar(&cli.BaseURL, "base-url", "", "Public URL prefix for media, e.g. https://cdn.example.com")

	fs.StringVar(&cli.RedisHost, "redis-host", "127.0.0.1", "Redis broker host")
	fs.IntVar(&cli.RedisPort, "redis-port", 6379, "Redis broker port")
	fs.StringVar(&cli.RedisPassword, "redis-password", "", "Redis broker password")
	fs.IntVar(&cli.RedisDatabase, "redis-database", 0, "Redis broker database index")

	fs.StringVar(&cli.UploadsDir, "media-uploads-dir", "/var/media/uploads", "Writable root for source uploads")
	fs.StringVar(&cli.ContentDir, "media-content-dir", "/var/media/content", "Writable root for produced media")
	fs.StringVar(&cli.LogFile, "log-file", "", "Optional file to append logs to, alongside stderr")

	fs.IntVar(&cli.SegmentSizeSecs, "hls-time", config.DefaultSegmentSizeSecs, "HLS segment duration in seconds, clamped to [2,3]")
	fs.IntVar(&cli.ThumbnailQuality, "thumbnail-quality", 60, "WebP quality for compressed thumbnails [0-100]")
	fs.IntVar(&cli.ThumbnailMaxWidth, "thumbnail-max-width", 1280, "Maximum thumbnail width")
	fs.IntVar(&cli.ThumbnailMaxHeight, "thumbnail-max-height", 720, "Maximum thumbnail height")

	fs.StringVar(&cli.WebhookURL, "wordpress-webhook-url", "", "Endpoint notified of job progress and terminal states")
	config.CommaSliceFlag(fs, &cli.AllowedDownloadDomains, "allowed-download-domains", []string{}, "Comma-separated host allowlist for source downloads, supports * and *.suffix")
	fs.BoolVar(&cli.VerifySSLDownloads, "verify-ssl-downloads", true, "Verify TLS certificates when fetching remote media")
	fs.IntVar(&cli.ParallelLimit, "parallel-limit", 1, "Worker concurrency cap")
	config.CommaSliceFlag(fs, &cli.AllowedOrigins, "allowed-origins", []string{"*"}, "Comma-separated CORS origin allowlist")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarNoPrefix(),
	); err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}

	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}

	if *version {
		fmt.Printf("videopress version: %s\n", config.Version)
		return
	}

	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}
	if err := vFlag.Value.Set("3"); err != nil {
		glog.Fatal(err)
	}

	if err := cli.Validate(); err != nil {
		glog.Fatalf("invalid configuration: %s", err)
	}
	if err := log.SetFile(cli.LogFile); err != nil {
		glog.Fatalf("cannot open log file: %s", err)
	}
	cli.SegmentSizeSecs = config.ClampSegmentSize(cli.SegmentSizeSecs)

	broker := queue.NewClient(cli.RedisAddr(), cli.RedisPassword, cli.RedisDatabase)
	defer broker.Close()

	callback := clients.NewCallbackClient(cli.WebhookURL, cli.APIKey)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	if cli.Mode == "worker" || cli.Mode == "all" {
		engine := pipeline.NewEngine(cli, broker, callback)
		supervisor := worker.New(cli, broker, engine, callback)
		if err := supervisor.CheckEnvironment(); err != nil {
			// Unwritable media directories or a missing transcoder are
			// fatal: exit 1 before taking any work.
			log.LogNoJobID("fatal startup failure", "err", err.Error())
			os.Exit(1)
		}
		group.Go(func() error {
			return supervisor.Run(ctx)
		})
	}

	if cli.Mode == "api" || cli.Mode == "all" {
		group.Go(func() error {
			return api.ListenAndServe(ctx, cli, broker)
		})
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		glog.Fatalf("service exited with error: %s", err)
	}
}
