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

// Package rest serves pipeline runs and metrics over HTTP.
package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mlnoga/cloudtop/internal/ops"
	_ "github.com/mlnoga/cloudtop/internal/ops/match"    // register match operator
	_ "github.com/mlnoga/cloudtop/internal/ops/retrieve" // register retrieval operators
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Settings for pipeline runs triggered over HTTP
type Server struct {
	Log           io.Writer // server-side log, in addition to the streamed job log
	NoData        float32
	MaxThreads    int  // 0 keeps the detected default
	RestrictPaths bool // only relative paths below the working directory
}

func NewServer(log io.Writer, noData float32) *Server {
	return &Server{Log: log, NoData: noData, RestrictPaths: true}
}

// Builds the router with all routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(s.Log), gin.Recovery(), prometheusMiddleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/run", s.postRun)
		}
	}
	return r
}

// Listens and serves on the given address until the server fails
func (s *Server) Serve(addr string) error {
	fmt.Fprintf(s.Log, "Serving on %s\n", addr)
	return s.Router().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Request body of a pipeline run
type RunRequest struct {
	Inputs   []string        `json:"inputs"`   // file names, loaded with IDs 0, 1, ...
	Pipeline json.RawMessage `json:"pipeline"` // a single operator, usually of type seq
}

// Serializes writes from concurrent workers, flushing after each
type flushWriter struct {
	mutex sync.Mutex
	w     gin.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	n, err := fw.w.Write(p)
	fw.w.Flush()
	return n, err
}

func (s *Server) postRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Inputs) == 0 || len(bytes.TrimSpace(req.Pipeline)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "inputs and pipeline are required"})
		return
	}
	op, err := ops.UnmarshalOperator(req.Pipeline)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := uuid.NewString()
	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain")
	header.Set("X-Job-ID", jobID)
	c.Writer.WriteHeader(http.StatusOK)
	logWriter := &flushWriter{w: c.Writer}
	fmt.Fprintf(s.Log, "Job %s: %d inputs\n", jobID, len(req.Inputs))

	if err := s.run(op, req.Inputs, logWriter); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		fmt.Fprintf(s.Log, "Job %s failed: %s\n", jobID, err.Error())
		jobsTotal.WithLabelValues("error").Inc()
		return
	}
	fmt.Fprintf(logWriter, "Job %s done\n", jobID)
	jobsTotal.WithLabelValues("ok").Inc()
}

// Runs an operator on the given input files, logging to the writer
func (s *Server) run(op ops.Operator, inputs []string, logWriter io.Writer) error {
	c := ops.NewContext(logWriter, s.NoData)
	if s.MaxThreads > 0 {
		c.MaxThreads = s.MaxThreads
	}
	c.RestrictPaths = s.RestrictPaths
	c.RegionObserver = ObserveRegion
	fmt.Fprintf(logWriter, "Running on %v\n", c)
	return c.Run(op, inputs)
}
