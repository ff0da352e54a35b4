package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "result_cache_requests_total",
	Help: "Result cache lookups by tier and outcome.",
}, []string{"tier", "result"})
