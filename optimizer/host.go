package optimizer

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// HostMemoryPressure is the host used-memory percentage above which a
// recommendation is raised.
const HostMemoryPressure = 90.0

// HostMemory describes the machine the process runs on.
type HostMemory struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"usedPercent"`
}

func hostMemory(ctx context.Context) (HostMemory, bool) {
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		return HostMemory{Total: vm.Total, Available: vm.Available, UsedPercent: vm.UsedPercent}, true
	}
	return HostMemory{}, false
}

// Recommendation is a rule whose condition currently holds.
type Recommendation struct {
	Rule        string `json:"rule"`
	Description string `json:"description"`
	Impact      Impact `json:"impact"`
}

// Report is the read-only advisory view served to operators.
type Report struct {
	Recommendations []Recommendation `json:"recommendations"`
	Observation     Observation      `json:"observation"`
	Host            *HostMemory      `json:"host,omitempty"`
}

// Recommendations evaluates every enabled rule without applying any of them.
func (e *Engine) Recommendations(ctx context.Context) Report {
	o := e.Observe(ctx)
	report := Report{Observation: o, Recommendations: []Recommendation{}}
	for _, rule := range e.Rules() {
		if rule.Enabled && e.holds(rule, o) {
			report.Recommendations = append(report.Recommendations, Recommendation{
				Rule:        rule.Name,
				Description: rule.Description,
				Impact:      rule.Impact,
			})
		}
	}
	if host, ok := hostMemory(ctx); ok {
		report.Host = &host
		if host.UsedPercent > HostMemoryPressure {
			report.Recommendations = append(report.Recommendations, Recommendation{
				Rule:        "host-memory",
				Description: fmt.Sprintf("host memory %.0f%% used: lower maxmemory or move redis to a larger host", host.UsedPercent),
				Impact:      ImpactHigh,
			})
		}
	}
	return report
}
