package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/perptrack/internal/api"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.Success(w, map[string]string{"status": "ok"})
}

type systemHealth struct {
	Status     string  `json:"status"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	DiskFree   uint64  `json:"disk_free_bytes"`
	WriteDB    string  `json:"write_db"`
	ReadDB     string  `json:"read_db"`
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	health := systemHealth{Status: "ok", WriteDB: "ok", ReadDB: "ok"}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		health.CPUPercent = cpuPercent[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		health.MemPercent = memStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	if usage, err := disk.Usage("/"); err == nil {
		health.DiskFree = usage.Free
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.writeDB.QuickCheck(ctx); err != nil {
		health.Status = "degraded"
		health.WriteDB = err.Error()
	}
	if err := s.readDB.QuickCheck(ctx); err != nil {
		health.Status = "degraded"
		health.ReadDB = err.Error()
	}

	api.Success(w, health)
}

func (s *Server) handleTrackerStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Get(chi.URLParam(r, "exchange"))
	if err != nil {
		api.Fail(w, err.Error())
		return
	}
	api.Success(w, t.Status())
}

func (s *Server) handleTrackerDebug(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Get(chi.URLParam(r, "exchange"))
	if err != nil {
		api.Fail(w, err.Error())
		return
	}
	api.Success(w, t.DebugInfo())
}

func (s *Server) handleTrackerStart(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Get(chi.URLParam(r, "exchange"))
	if err != nil {
		api.Fail(w, err.Error())
		return
	}
	if err := t.Start(context.Background()); err != nil {
		api.Fail(w, "failed to start tracker: "+err.Error())
		return
	}
	api.Success(w, t.Status())
}

func (s *Server) handleTrackerStop(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Get(chi.URLParam(r, "exchange"))
	if err != nil {
		api.Fail(w, err.Error())
		return
	}
	if err := t.Stop(); err != nil {
		api.Fail(w, "failed to stop tracker: "+err.Error())
		return
	}
	api.Success(w, t.Status())
}
