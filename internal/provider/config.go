package provider

import (
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/log"
)

// FromConfig builds the provider list from configuration. Ranking by priority
// is left to the dispatch engine.
func FromConfig(cfgs []config.ProviderConfig) []Provider {
	logger := log.WithComponent("provider")

	out := make([]Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		p := NewSimulated(pc.Name, pc.Priority, pc.SuccessRate, pc.MinLatency, pc.MaxLatency)
		if pc.Healthy != nil {
			p.SetHealthy(*pc.Healthy)
		}
		out = append(out, p)
		logger.Info("provider registered",
			"name", pc.Name,
			"priority", pc.Priority,
			"success_rate", pc.SuccessRate,
		)
	}
	return out
}
