package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "surveysched_eventbus_dropped_total",
		Help: "Events a subscriber missed because its buffer was full",
	},
	[]string{"type"},
)
