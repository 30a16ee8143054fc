// Package platform implements chanhub's Resource Guard: container-aware CPU
// sampling used to gate admission of new sessions alongside the raw
// session-count cap.
package platform

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arlonorlan/chanhub/internal/logging"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Guard samples process CPU usage on a ticker and exposes Allow(), which
// the admission controller consults alongside MAX_CLIENTS.
type Guard struct {
	log       zerolog.Logger
	threshold float64

	cgroup        *cgroupCPU // nil when no cgroup was detected
	lastUsageUsec uint64
	lastSampleAt  time.Time

	currentCPU atomic.Value // float64
}

// NewGuard constructs a Guard rejecting admission above thresholdPercent
// CPU usage. Cgroup detection happens once at construction; if no cgroup
// is present, or its CPU quota is unbounded, the guard falls back to
// gopsutil host-wide sampling on every Sample call.
func NewGuard(thresholdPercent float64, log zerolog.Logger) *Guard {
	g := &Guard{log: log, threshold: thresholdPercent}
	g.currentCPU.Store(0.0)

	cg, err := detectCgroupCPU()
	if err != nil {
		g.log.Info().Msg("no cgroup detected, resource guard will use host-wide CPU sampling")
		return g
	}
	g.cgroup = cg

	if usage, err := readCPUUsageUsec(cg.path, cg.version); err == nil {
		g.lastUsageUsec = usage
		g.lastSampleAt = time.Now()
	} else {
		g.cgroup = nil
	}
	return g
}

// Sample refreshes the guard's current CPU reading. Call it periodically
// (e.g. from a ticker owned by the server).
func (g *Guard) Sample() {
	percent, err := g.sampleOnce()
	if err != nil {
		g.log.Warn().Err(err).Msg("resource guard: CPU sample failed")
		return
	}
	g.currentCPU.Store(percent)
}

func (g *Guard) sampleOnce() (float64, error) {
	if g.cgroup != nil && g.cgroup.numCPUsAllocated > 0 {
		return g.sampleCgroup()
	}
	return g.sampleHost()
}

func (g *Guard) sampleCgroup() (float64, error) {
	now := time.Now()
	usage, err := readCPUUsageUsec(g.cgroup.path, g.cgroup.version)
	if err != nil {
		return 0, err
	}

	elapsedUsec := now.Sub(g.lastSampleAt).Microseconds()
	if elapsedUsec <= 0 {
		return g.currentCPU.Load().(float64), nil
	}

	usageDelta := usage - g.lastUsageUsec
	g.lastUsageUsec = usage
	g.lastSampleAt = now

	rawPercent := (float64(usageDelta) / float64(elapsedUsec)) * 100.0
	if g.cgroup.numCPUsAllocated > 0 {
		return rawPercent / g.cgroup.numCPUsAllocated, nil
	}
	return rawPercent, nil
}

func (g *Guard) sampleHost() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, fmt.Errorf("platform: gopsutil sample: %w", err)
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("platform: gopsutil returned no samples")
	}
	return percents[0], nil
}

// CurrentCPU returns the most recently sampled CPU percentage.
func (g *Guard) CurrentCPU() float64 {
	return g.currentCPU.Load().(float64)
}

// Allow reports whether the guard currently permits a new admission, and a
// human-readable reason when it does not.
func (g *Guard) Allow() (bool, string) {
	current := g.CurrentCPU()
	if current > g.threshold {
		return false, fmt.Sprintf("cpu %.1f%% > threshold %.1f%%", current, g.threshold)
	}
	return true, ""
}

// StartSampling runs Sample on interval until ctx is cancelled.
func (g *Guard) StartSampling(ctx context.Context, interval time.Duration) {
	go func() {
		defer logging.RecoverPanic(g.log, "resource_guard_sampling", nil)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Sample()
			case <-ctx.Done():
				return
			}
		}
	}()
}
