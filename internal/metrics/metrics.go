// Package metrics holds the process-wide Prometheus collectors. They live in
// a dedicated registry that the studio serves on /metrics and the batch
// runner pushes to a Pushgateway at the end of a pass.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	Registry = prometheus.NewRegistry()

	DocumentsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "glimpse_documents_total",
			Help: "Documents handled by the batch runner, partitioned by outcome.",
		},
		[]string{"status"},
	)
	DistillRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "glimpse_distill_requests_total",
			Help: "Distillation calls, partitioned by strategy, category and result.",
		},
		[]string{"strategy", "category", "status"},
	)
	DistillDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glimpse_distill_duration_seconds",
			Help:    "Time spent producing one derived text.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
	RetriesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "glimpse_retries_total",
			Help: "Retried remote operations.",
		},
		[]string{"op"},
	)
	ChatTokens = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "glimpse_chat_tokens_total",
			Help: "Tokens reported by chat providers.",
		},
		[]string{"provider"},
	)
	ChatRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glimpse_chat_request_duration_seconds",
			Help:    "Latency of chat completion requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "status"},
	)
	ImagesGenerated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "glimpse_images_generated_total",
			Help: "Image generation attempts, partitioned by result.",
		},
		[]string{"status"},
	)
	GenerationDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "glimpse_generation_duration_seconds",
			Help:    "Wall time of a full diffusion run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

// Handler exposes the glimpse registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Push sends the registry to a Pushgateway under job, grouped by instance.
// An empty url is a no-op.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instance := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	err = push.New(url, job).
		Gatherer(Registry).
		Grouping("instance", instance).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	slog.Debug("Metrics pushed", "url", url, "job", job, "instance", instance)
	return nil
}
