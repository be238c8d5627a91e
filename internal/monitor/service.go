// Package monitor collects host health snapshots (CPU, load, network, top
// processes) for the status command and periodic health logging.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	gopsutilNet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	snapshotCacheTTL    = 2 * time.Second
	throughputSpan      = 6 * time.Second
	throughputSampleMax = 10
	processLimit        = 20
)

// Snapshot is one observation of the host the bot runs on.
type Snapshot struct {
	CPUUsage    float64   `json:"cpu_usage"`
	CPUCores    int       `json:"cpu_cores"`
	LoadAverage []float64 `json:"load_average,omitempty"`

	NetworkBytesReceived uint64  `json:"network_bytes_received"`
	NetworkBytesSent     uint64  `json:"network_bytes_sent"`
	NetworkSpeedReceived float64 `json:"network_speed_received"`
	NetworkSpeedSent     float64 `json:"network_speed_sent"`

	Platform   string `json:"platform"`
	Goroutines int    `json:"goroutines"`
	UptimeSecs int64  `json:"uptime_secs"`

	Processes   []ProcessInfo `json:"processes"`
	TimestampMs int64         `json:"timestamp_ms"`
}

// ProcessInfo describes one entry of the top-processes list.
type ProcessInfo struct {
	PID         int32   `json:"pid"`
	Name        string  `json:"name"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Username    string  `json:"username"`
}

type Service struct {
	log       *slog.Logger
	startedAt time.Time

	mu      sync.Mutex
	hasSnap bool
	snap    snapshotWithMetrics

	throughput *throughputWindow
}

type snapshotWithMetrics struct {
	collectedAt time.Time
	data        Snapshot
	procMetrics []processWithMetrics
}

type processWithMetrics struct {
	pid         int32
	name        string
	cpuPercent  float64
	memoryBytes uint64
	username    string
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:        log,
		startedAt:  time.Now(),
		throughput: newThroughputWindow(throughputSampleMax, throughputSpan),
	}
}

// Snapshot returns the current host snapshot with the top processes sorted by
// sortBy ("cpu" or "memory"). Collection is cached for a short TTL so rapid
// callers do not hammer procfs.
func (s *Service) Snapshot(ctx context.Context, sortBy string) Snapshot {
	if s == nil {
		return Snapshot{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()

	s.mu.Lock()
	if s.hasSnap && now.Sub(s.snap.collectedAt) < snapshotCacheTTL {
		out := s.snap
		s.mu.Unlock()
		return buildSnapshot(out, sortBy)
	}
	s.mu.Unlock()

	snap := s.collect(ctx)

	s.mu.Lock()
	s.snap = snap
	s.hasSnap = true
	s.mu.Unlock()

	return buildSnapshot(snap, sortBy)
}

// LogHealth writes a one-line health summary, used by the periodic health
// ticker in the run loop.
func (s *Service) LogHealth(ctx context.Context) {
	if s == nil {
		return
	}
	snap := s.Snapshot(ctx, "cpu")
	s.log.Info("Health snapshot",
		"cpu_usage", fmt.Sprintf("%.1f%%", snap.CPUUsage),
		"goroutines", snap.Goroutines,
		"net_recv_bps", fmt.Sprintf("%.0f", snap.NetworkSpeedReceived),
		"net_sent_bps", fmt.Sprintf("%.0f", snap.NetworkSpeedSent),
		"uptime_secs", snap.UptimeSecs,
	)
}

func (s *Service) collect(ctx context.Context) snapshotWithMetrics {
	collectedAt := time.Now()

	data := Snapshot{
		Platform:   runtime.GOOS,
		Goroutines: runtime.NumGoroutine(),
		UptimeSecs: int64(collectedAt.Sub(s.startedAt).Seconds()),
	}

	// Prefer non-blocking sampling (diff from last call); per-CPU first to
	// avoid 0% results from coarse aggregated tick updates.
	if usage, err := readCPUUsage(ctx); err == nil {
		data.CPUUsage = usage
	} else {
		s.log.Warn("monitor: get cpu percent failed", "error", err)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		data.CPUCores = cores
	} else {
		s.log.Warn("monitor: get cpu cores failed", "error", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		data.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else if err != nil {
		s.log.Warn("monitor: get load average failed", "error", err)
	}

	if ioStats, err := gopsutilNet.IOCountersWithContext(ctx, false); err == nil && len(ioStats) > 0 {
		data.NetworkBytesReceived = ioStats[0].BytesRecv
		data.NetworkBytesSent = ioStats[0].BytesSent

		s.throughput.Add(throughputSample{
			rxBytes: ioStats[0].BytesRecv,
			txBytes: ioStats[0].BytesSent,
			at:      collectedAt,
		})

		rx, tx := s.throughput.Rates(collectedAt)
		data.NetworkSpeedReceived = rx
		data.NetworkSpeedSent = tx
	} else if err != nil {
		s.log.Warn("monitor: get network io failed", "error", err)
	}

	procMetrics, err := collectProcessMetrics(ctx)
	if err != nil {
		s.log.Warn("monitor: get process list failed", "error", err)
		procMetrics = nil
	}

	data.TimestampMs = collectedAt.UnixMilli()

	return snapshotWithMetrics{
		collectedAt: collectedAt,
		data:        data,
		procMetrics: procMetrics,
	}
}

func readCPUUsage(ctx context.Context) (float64, error) {
	var errs []error

	if p, err := cpu.PercentWithContext(ctx, 0, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	// Fallback: a short blocking interval bootstraps lastTimes if needed.
	if p, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}
	if p, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, fmt.Errorf("cpu percent unavailable")
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func collectProcessMetrics(ctx context.Context) ([]processWithMetrics, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]processWithMetrics, 0, len(procs))
	for _, p := range procs {
		if p == nil {
			continue
		}

		name, err := p.NameWithContext(ctx)
		if err != nil || strings.TrimSpace(name) == "" {
			// Some system processes refuse name lookup; keep a readable fallback.
			name = fmt.Sprintf("[%d]", p.Pid)
		}

		cpuPercent, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			cpuPercent = 0
		}

		var memBytes uint64
		if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			memBytes = memInfo.RSS
		}

		username, err := p.UsernameWithContext(ctx)
		if err != nil || strings.TrimSpace(username) == "" {
			username = "system"
		}

		out = append(out, processWithMetrics{
			pid:         p.Pid,
			name:        name,
			cpuPercent:  cpuPercent,
			memoryBytes: memBytes,
			username:    username,
		})
	}

	return out, nil
}

func normalizeSortBy(sortBy string) string {
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case "memory":
		return "memory"
	default:
		return "cpu"
	}
}

func buildSnapshot(snap snapshotWithMetrics, sortBy string) Snapshot {
	out := snap.data
	out.Processes = selectTopProcesses(snap.procMetrics, sortBy, processLimit)
	return out
}

func selectTopProcesses(metrics []processWithMetrics, sortBy string, limit int) []ProcessInfo {
	if len(metrics) == 0 || limit <= 0 {
		return []ProcessInfo{}
	}

	sortBy = normalizeSortBy(sortBy)
	copied := make([]processWithMetrics, len(metrics))
	copy(copied, metrics)

	sort.Slice(copied, func(i, j int) bool {
		if sortBy == "memory" {
			return copied[i].memoryBytes > copied[j].memoryBytes
		}
		return copied[i].cpuPercent > copied[j].cpuPercent
	})

	if len(copied) > limit {
		copied = copied[:limit]
	}

	out := make([]ProcessInfo, 0, len(copied))
	for _, p := range copied {
		name := strings.TrimSpace(p.name)
		if name == "" {
			name = fmt.Sprintf("[%d]", p.pid)
		}
		out = append(out, ProcessInfo{
			PID:         p.pid,
			Name:        name,
			CPUPercent:  p.cpuPercent,
			MemoryBytes: p.memoryBytes,
			Username:    p.username,
		})
	}
	return out
}
