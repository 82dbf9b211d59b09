// Package health serves the operator HTTP endpoint: liveness plus a
// status snapshot of host resources and pipeline load.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bowerhall/visage/internal/logger"
)

// SessionCounter reports how many sessions are live.
type SessionCounter interface {
	Count() int
}

// PoolStats reports in-flight pipeline jobs.
type PoolStats interface {
	Active() int
}

// StorageProbe reports whether the blob store answers.
type StorageProbe interface {
	Healthy(ctx context.Context) bool
}

type StatusResponse struct {
	Hostname       string  `json:"hostname"`
	OS             string  `json:"os"`
	Arch           string  `json:"arch"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemTotal       uint64  `json:"mem_total"`
	MemUsed        uint64  `json:"mem_used"`
	MemUsage       float64 `json:"mem_usage"`
	DiskUsed       uint64  `json:"disk_used"`
	DiskFree       uint64  `json:"disk_free"`
	Sessions       int     `json:"sessions"`
	ActiveJobs     int     `json:"active_jobs"`
	StorageHealthy bool    `json:"storage_healthy"`
}

type Server struct {
	sessions SessionCounter
	pool     PoolStats
	storage  StorageProbe
	srv      *http.Server
}

func NewServer(addr string, sessions SessionCounter, pool PoolStats, storage StorageProbe) *Server {
	s := &Server{sessions: sessions, pool: pool, storage: storage}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		logger.Info("health endpoint listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health endpoint failed", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	cpuPercent, _ := cpu.Percent(time.Second, false)
	cpuUsage := 0.0
	if len(cpuPercent) > 0 {
		cpuUsage = cpuPercent[0]
	}

	memInfo, _ := mem.VirtualMemory()
	diskInfo, _ := disk.Usage("/")

	status := StatusResponse{
		Hostname:       hostname,
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		CPUUsage:       cpuUsage,
		Sessions:       s.sessions.Count(),
		ActiveJobs:     s.pool.Active(),
		StorageHealthy: s.storage.Healthy(r.Context()),
	}
	if memInfo != nil {
		status.MemTotal = memInfo.Total
		status.MemUsed = memInfo.Used
		status.MemUsage = memInfo.UsedPercent
	}
	if diskInfo != nil {
		status.DiskUsed = diskInfo.Used
		status.DiskFree = diskInfo.Free
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
