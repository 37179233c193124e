package ordersync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comanda_order_subscriptions",
			Help: "Number of live order subscriptions.",
		},
	)
	snapshotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comanda_order_snapshots_total",
			Help: "Full order snapshots loaded from the store.",
		},
	)
	feedErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comanda_order_feed_errors_total",
			Help: "Order change feed failures.",
		},
	)
	statusChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comanda_order_status_changes_total",
			Help: "Order status changes by target status and outcome.",
		},
		[]string{"status", "outcome"},
	)
)
