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

	"github.com/TiunovNN/video-compression-model/clients"
	"github.com/TiunovNN/video-compression-model/config"
	"github.com/TiunovNN/video-compression-model/model"
	"github.com/TiunovNN/video-compression-model/pipeline"
	"github.com/TiunovNN/video-compression-model/queue"
	"github.com/TiunovNN/video-compression-model/store"
	"github.com/TiunovNN/video-compression-model/transcode"
	"github.com/TiunovNN/video-compression-model/video"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	fs := flag.NewFlagSet("transcoding-worker", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")
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
		fmt.Printf("transcoding-worker version: %s\n", config.Version)
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

	regressor, err := model.LoadRegressor(cli.RegressorPath)
	if err != nil {
		glog.Fatalf("error loading the quality regressor: %s", err)
	}
	predictor := model.NewPredictor(regressor, cli.QualityFloor, cli.CRFRange, cli.QPRange)
	encoder := &transcode.Encoder{TimeoutFactor: cli.EncodeTimeoutFactor}

	publisher, err := queue.NewAMQPPublisher(cli.AMQPURL, cli.QueueName)
	if err != nil {
		glog.Fatalf("error connecting to the broker: %s", err)
	}
	defer publisher.Close()

	coordinator := pipeline.NewCoordinator(
		repo, objects, publisher, video.Probe{}, predictor, encoder,
		cli.AnalyzerWorkers, cli.FrameLookahead,
	)
	consumer := queue.NewConsumer(cli.AMQPURL, cli.QueueName, cli.Prefetch, coordinator)

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return consumer.Run(ctx)
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
