package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalRequests tracks the number of HTTP requests dispatched by the crawler.
	TotalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_requests_total",
		Help: "The total number of HTTP requests sent.",
	})
	// TotalRequestErrors tracks the number of requests that resulted in an error.
	TotalRequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_request_errors_total",
		Help: "The total number of failed HTTP requests.",
	})
	// TotalTasksCompleted tracks tasks driven to the completed state, by namespace.
	TotalTasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_tasks_completed_total",
		Help: "The total number of tasks driven to completion.",
	}, []string{"namespace"})
	// TotalTaskFailures tracks failed task attempts, by namespace.
	TotalTaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_task_failures_total",
		Help: "The total number of failed task attempts.",
	}, []string{"namespace"})
	// TotalCommentsScraped tracks comments extracted and persisted.
	TotalCommentsScraped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_comments_scraped_total",
		Help: "The total number of comments extracted and saved.",
	})
	// TotalMoviesDiscovered tracks new movie ids found by the discovery feed.
	TotalMoviesDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_movies_discovered_total",
		Help: "The total number of new movie ids discovered.",
	})
)
