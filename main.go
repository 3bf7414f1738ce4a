package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	_ "github.com/lib/pq"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/TiunovNN/video-compression-model/api"
	"github.com/TiunovNN/video-compression-model/clients"
	"github.com/TiunovNN/video-compression-model/config"
	"github.com/TiunovNN/video-compression-model/handlers"
	"github.com/TiunovNN/video-compression-model/queue"
	"github.com/TiunovNN/video-compression-model/store"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	fs := flag.NewFlagSet("transcoding-api", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")
	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind the public HTTP API to")
	config.AddFlags(fs, &cli)
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarNoPrefix(),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("transcoding-api version: %s\n", config.Version)
		return
	}

	db, err := store.Open(cli.DatabaseURL)
	if err != nil {
		glog.Fatalf("error connecting to the task database: %s", err)
	}
	if err := store.EnsureSchema(context.Background(), db); err != nil {
		glog.Fatalf("error preparing the task schema: %s", err)
	}
	repo := store.NewPostgresRepository(db)

	objects, err := clients.NewS3Client(cli)
	if err != nil {
		glog.Fatalf("error creating the object store client: %s", err)
	}

	publisher, err := queue.NewAMQPPublisher(cli.AMQPURL, cli.QueueName)
	if err != nil {
		glog.Fatalf("error connecting to the broker: %s", err)
	}
	defer publisher.Close()

	apiHandlers := &handlers.TranscodingAPIHandlersCollection{
		Repo:      repo,
		Objects:   objects,
		Publisher: publisher,
		Cli:       cli,
	}

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli, apiHandlers)
	})

	err = group.Wait()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-c:
		return fmt.Errorf("caught signal=%v", s)
	case <-ctx.Done():
		return nil
	}
}
