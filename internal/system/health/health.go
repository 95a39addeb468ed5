// Package health reports the orchestrator's own resource usage and the
// lifecycle manager's registered component descriptors, backing the
// /system/status endpoint.
package health

import (
	"context"
	goruntime "runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/R3E-Network/testorch/internal/system"
)

// ComponentStatus is one lifecycle-managed component's introspection entry.
type ComponentStatus struct {
	Name         string   `json:"name"`
	Layer        string   `json:"layer"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Resources is the process's current resource usage.
type Resources struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsedMB  float64 `json:"memoryUsedMb"`
	MemoryTotalMB float64 `json:"memoryTotalMb"`
	Goroutines    int     `json:"goroutines"`
}

// Status is the full /system/status payload.
type Status struct {
	Components []ComponentStatus `json:"components"`
	Resources  Resources         `json:"resources"`
}

// Reporter builds a Status snapshot from a lifecycle Manager.
type Reporter struct {
	manager *system.Manager
}

// New builds a Reporter over manager.
func New(manager *system.Manager) *Reporter {
	return &Reporter{manager: manager}
}

// Report collects component descriptors and a point-in-time resource
// snapshot. CPU sampling blocks for up to 200ms; callers on a request path
// should keep that in mind (it is cheap relative to typical dashboard
// polling intervals).
func (r *Reporter) Report(ctx context.Context) Status {
	descriptors := r.manager.Descriptors()
	components := make([]ComponentStatus, 0, len(descriptors))
	for _, d := range descriptors {
		components = append(components, ComponentStatus{
			Name:         d.Name,
			Layer:        string(d.Layer),
			Capabilities: d.Capabilities,
		})
	}

	return Status{
		Components: components,
		Resources:  sampleResources(ctx),
	}
}

func sampleResources(ctx context.Context) Resources {
	var out Resources
	out.Goroutines = goruntime.NumGoroutine()

	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		out.CPUPercent = roundTo2(percents[0])
	}

	if vmem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.MemoryUsedMB = roundTo2(float64(vmem.Used) / (1024 * 1024))
		out.MemoryTotalMB = roundTo2(float64(vmem.Total) / (1024 * 1024))
	}

	return out
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
