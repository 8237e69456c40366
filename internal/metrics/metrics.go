package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Route request metrics
	RouteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_route_requests_total",
			Help: "Total number of routing requests",
		},
		[]string{"chain", "trade_type", "status"},
	)

	RouteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "route_engine_route_duration_seconds",
			Help:    "End to end routing duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"chain", "trade_type"},
	)

	// Router phase metrics for performance analysis
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "route_engine_stage_duration_seconds",
			Help:    "Duration of each routing stage in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"stage"},
	)

	CandidatePools = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "route_engine_candidate_pools",
		Help:    "Number of candidate pools selected per request",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 50, 100},
	})

	RoutesGenerated = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "route_engine_routes_generated",
		Help:    "Number of routes enumerated per request",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	SlicesQuoted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_slices_quoted_total",
			Help: "Total number of (route, percent) slices quoted",
		},
		[]string{"result"},
	)

	SplitIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "route_engine_split_iterations",
		Help:    "Number of improving moves applied by the split optimizer",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 40},
	})

	SplitEvaluations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "route_engine_split_evaluations",
		Help:    "Number of allocations scored by the split optimizer",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000},
	})

	SplitRoutes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "route_engine_split_routes",
		Help:    "Number of routes in the returned plan",
		Buckets: []float64{1, 2, 3, 4},
	})

	PriceImpact = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "route_engine_price_impact_bps",
			Help:    "Price impact in basis points",
			Buckets: []float64{0, 10, 50, 100, 300, 500, 1000, 5000, 10000},
		},
		[]string{"severity"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// Upstream metrics
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_provider_calls_total",
			Help: "Total number of upstream calls by provider and result",
		},
		[]string{"provider", "result"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_provider_retries_total",
			Help: "Total number of retried upstream calls",
		},
		[]string{"provider"},
	)

	MulticallBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_multicall_batches_total",
			Help: "Total number of multicall chunks sent",
		},
		[]string{"chain"},
	)

	MulticallBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "route_engine_multicall_batch_size",
		Help:    "Number of calls per multicall chunk",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})

	PoolSourceFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_pool_source_fallbacks_total",
			Help: "Total number of times a pool source failed and the next one was used",
		},
		[]string{"chain", "source"},
	)

	PoolsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_pools_fetched_total",
			Help: "Total number of pool snapshots fetched",
		},
		[]string{"chain", "source"},
	)

	ChainHead = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "route_engine_chain_head_block",
			Help: "Latest observed block number",
		},
		[]string{"chain"},
	)

	GasPriceGwei = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "route_engine_gas_price_gwei",
			Help: "Last gas price served per chain",
		},
		[]string{"chain"},
	)

	GasPriceStale = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_gas_price_stale_total",
			Help: "Total number of stale gas prices served after an upstream failure",
		},
		[]string{"chain"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_engine_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "route_engine_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
