package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TiunovNN/video-compression-model/config"
	"github.com/TiunovNN/video-compression-model/handlers"
	"github.com/TiunovNN/video-compression-model/log"
	"github.com/TiunovNN/video-compression-model/middleware"
)

func ListenAndServe(ctx context.Context, cli config.Cli, apiHandlers *handlers.TranscodingAPIHandlersCollection) error {
	router := NewTranscodingAPIRouter(apiHandlers)
	server := http.Server{Addr: cli.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoTaskID(
		"Starting Transcoding API!",
		"version", config.Version,
		"host", cli.HTTPAddress,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewTranscodingAPIRouter(apiHandlers *handlers.TranscodingAPIHandlersCollection) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()

	// Simple endpoint for healthchecks
	router.GET("/ok", withLogging(apiHandlers.Ok()))
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	// Public transcoding API
	router.POST("/tasks", withLogging(apiHandlers.CreateTask()))
	router.GET("/tasks", withLogging(apiHandlers.ListTasks()))
	router.GET("/tasks/:id", withLogging(apiHandlers.GetTask()))

	return router
}
