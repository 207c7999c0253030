package models

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sceneCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scene_count",
		Help: "The number of scenes.",
	})

	sceneCountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_count_total",
		Help: "The total number of scenes.",
	})

	sceneObjectCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scene_object_count",
		Help: "The number of items indexed across all scenes.",
	})

	sceneBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scene_build_duration_seconds",
		Help:    "The time taken to build a scene index.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	sceneBuildFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scene_build_failures_total",
		Help: "The number of scene builds that failed.",
	})
)

func instrumentIncreaseSceneGauge() {
	sceneCount.Inc()
}

func instrumentDecreaseSceneGauge() {
	sceneCount.Dec()
}

func instrumentCountScene() {
	sceneCountTotal.Inc()
}

func instrumentObjectCount(delta int) {
	sceneObjectCount.Add(float64(delta))
}

func instrumentBuildDuration(d time.Duration) {
	sceneBuildDuration.Observe(d.Seconds())
}

func instrumentBuildFailure() {
	sceneBuildFailures.Inc()
}
