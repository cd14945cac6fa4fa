package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ogxcoders/videopress/config"
	"github.com/ogxcoders/videopress/handlers"
	"github.com/ogxcoders/videopress/log"
	"github.com/ogxcoders/videopress/middleware"
	"github.com/ogxcoders/videopress/queue"
)

// ListenAndServe runs the intake API until ctx is cancelled, then shuts the
// server down gracefully.
func ListenAndServe(ctx context.Context, cli config.Cli, broker *queue.Client) error {
	router := NewAPIRouter(cli, broker)
	server := http.Server{Addr: cli.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoJobID(
		"Starting intake API",
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func NewAPIRouter(cli config.Cli, broker *queue.Client) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()
	withCORS := middleware.AllowCORS(cli.AllowedOrigins)
	limiter := middleware.NewRateLimiter()

	apiHandlers := handlers.NewAPIHandlersCollection(cli, broker)

	// authenticated API surface, rate limited per client IP
	api := func(h httprouter.Handle) httprouter.Handle {
		return withLogging(withCORS(limiter.Limit(middleware.IsAuthorized(cli.APIKey, h))))
	}

	router.GET("/ok", withLogging(apiHandlers.Ok()))
	router.POST("/api/compress", api(apiHandlers.Compress()))
	router.GET("/api/status", api(apiHandlers.Status()))
	router.POST("/api/webhook", api(apiHandlers.WebhookAction()))
	router.GET("/api/admin/jobs", api(apiHandlers.AdminJobs()))

	// health stays unauthenticated for load balancer probes
	router.GET("/api/health", withLogging(withCORS(limiter.Limit(apiHandlers.Health()))))

	// public media, served with Range support
	content := withLogging(withCORS(apiHandlers.ServeContent()))
	router.GET("/content/*filepath", content)
	router.HEAD("/content/*filepath", content)

	router.Handler("GET", "/metrics", promhttp.Handler())

	return router
}
