package server

import (
	"net/http"
	"os"
	"runtime"

	"github.com/ZanzyTHEbar/aidetect/detect/service"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type processStats struct {
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
}

type runtimeStats struct {
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	NumGC          uint32 `json:"numGC"`
	Goroutines     int    `json:"goroutines"`
}

type healthResponse struct {
	Status          string                     `json:"status"`
	State           string                     `json:"state"`
	ModelLoaded     bool                       `json:"modelLoaded"`
	TokenizerLoaded bool                       `json:"tokenizerLoaded"`
	Backend         string                     `json:"backend,omitempty"`
	AIIndex         int                        `json:"aiIndex"`
	LabelSource     string                     `json:"labelSource,omitempty"`
	MaxLength       int                        `json:"maxLength,omitempty"`
	WarmupMs        float64                    `json:"warmupMs"`
	Predictions     uint64                     `json:"predictions"`
	Failures        uint64                     `json:"failures"`
	LiveTensors     int64                      `json:"liveTensors"`
	Calibration     *service.CalibrationReport `json:"calibration,omitempty"`
	Process         processStats               `json:"process"`
	Runtime         runtimeStats               `json:"runtime"`
}

func newHealthResponse(h service.Health, p processStats) healthResponse {
	status := statusUnhealthy
	if h.Ready() {
		status = statusHealthy
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return healthResponse{
		Status:          status,
		State:           h.State,
		ModelLoaded:     h.ModelLoaded,
		TokenizerLoaded: h.TokenizerLoaded,
		Backend:         h.Backend,
		AIIndex:         h.AIIndex,
		LabelSource:     h.LabelSource,
		MaxLength:       h.MaxLength,
		WarmupMs:        h.WarmupMs,
		Predictions:     h.Predictions,
		Failures:        h.Failures,
		LiveTensors:     h.Tensors.Live,
		Calibration:     h.Calibration,
		Process:         p,
		Runtime: runtimeStats{
			HeapAllocBytes: ms.HeapAlloc,
			NumGC:          ms.NumGC,
			Goroutines:     runtime.NumGoroutine(),
		},
	}
}

// selfStats reads resident memory and CPU usage of the given process.
func selfStats(p *process.Process) (processStats, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return processStats{}, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return processStats{}, err
	}
	return processStats{RSSBytes: memInfo.RSS, CPUPercent: cpuPercent}, nil
}

func openSelf(log zerolog.Logger) *process.Process {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn().Err(err).Msg("process metrics unavailable")
		return nil
	}
	return p
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	var ps processStats
	if h.proc != nil {
		var err error
		if ps, err = selfStats(h.proc); err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("process metrics")
		}
	}
	st := h.det.Health()
	if !st.Ready() && st.Err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(st.Err).Str("state", st.State).Msg("health check while not ready")
	}
	resp := newHealthResponse(st, ps)
	code := http.StatusOK
	if resp.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
