package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbchat_chat_duration_seconds",
			Help:    "Chat turn resolution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"chat_type"},
	)

	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_chat_total",
			Help: "Total number of chat turns processed",
		},
		[]string{"status"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_feedback_total",
			Help: "Total feedback events recorded",
		},
		[]string{"kind"},
	)

	ImprovedAnswerServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbchat_improved_answer_served_total",
			Help: "Total answers replaced by a confident correction",
		},
	)

	AnswerConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbchat_answer_confidence",
			Help:    "Confidence of stored corrections at resolve time",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	SimilarMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbchat_similar_matches_count",
			Help:    "Number of similar corrected questions per chat turn",
			Buckets: []float64{0, 1, 2, 3},
		},
	)

	VectorResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbchat_vector_results_count",
			Help:    "Number of retrieved fragments per chat turn",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ConversationsCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbchat_conversations_cleaned_total",
			Help: "Total conversations removed by TTL cleanup",
		},
	)
)

func Init() {
	prometheus.MustRegister(ChatDuration)
	prometheus.MustRegister(ChatTotal)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(ImprovedAnswerServed)
	prometheus.MustRegister(AnswerConfidence)
	prometheus.MustRegister(SimilarMatches)
	prometheus.MustRegister(VectorResultsCount)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ConversationsCleaned)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
