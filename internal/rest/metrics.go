// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"image"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "cloudtop_http_response_time_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"path"})
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudtop_http_requests_total",
		Help: "Number of HTTP requests.",
	}, []string{"path", "status"})
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudtop_jobs_total",
		Help: "Number of pipeline runs by outcome.",
	}, []string{"outcome"})
	regionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cloudtop_region_seconds",
		Help:    "Processing time of a single region by operator.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"op"})
	regionPixels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudtop_region_pixels_total",
		Help: "Number of pixels processed by operator.",
	}, []string{"op"})
)

// Records request counts and durations per route
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Records per-region processing metrics. Suitable as ops.Context.RegionObserver
func ObserveRegion(op string, r image.Rectangle, elapsed time.Duration) {
	regionDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	regionPixels.WithLabelValues(op).Add(float64(r.Dx() * r.Dy()))
}
