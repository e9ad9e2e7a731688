package config

import (
	"github.com/codaproj/coda/modules/backend"
	"github.com/codaproj/coda/modules/client"
	"github.com/codaproj/coda/modules/dispatcher"
	"github.com/codaproj/coda/modules/filter"
	"github.com/codaproj/coda/modules/frontend"
	"github.com/codaproj/coda/modules/monitor"
)

// BuildFrontendConfig translates the root config into modules/frontend's
// native Config.
func (r *Root) BuildFrontendConfig() frontend.Config {
	return frontend.Config{
		K: r.K,
		B: r.Encode.BackupNum,
	}
}

// BuildFilterConfig translates filter_config plus the node/stripe counts
// the auto-ratio formula needs.
func (r *Root) BuildFilterConfig() (filter.Config, error) {
	mode, err := parseFilterMode(r.Filter.Type)
	if err != nil {
		return filter.Config{}, err
	}
	return filter.Config{
		Mode:           mode,
		CDCRatio:       r.Filter.CDCRatio,
		N:              r.NodeNumber,
		K:              r.K,
		DebounceCycles: 10,
	}, nil
}

// buildMonitorConfig translates monitor_config.
func (r *Root) buildMonitorConfig() (monitor.Config, error) {
	updateMode, err := parseUpdateMode(r.Monitor.UpdateMode)
	if err != nil {
		return monitor.Config{}, err
	}
	algo, err := parseAlgorithm(r.Monitor.Algorithm)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		UpdateMode:     updateMode,
		UpdateInterval: r.Monitor.UpdateInterval,
		UpdateTimeGap:  r.Monitor.UpdateTimeGap,
		Algorithm:      algo,
		RecoveryTime:   r.Monitor.RecoveryTime,
		ToVulNum:       r.Monitor.ToVulNum,
		CEE:            r.Monitor.CEE,
		TopK:           r.Monitor.TopK,
		HistoryLength:  r.Monitor.HistoryLength,
		CEEBoundKPlus1: r.K + 1,
	}, nil
}

// BuildMonitorConfig is the exported form of buildMonitorConfig, named
// distinctly so Validate can call the unexported one before any module is
// constructed.
func (r *Root) BuildMonitorConfig() (monitor.Config, error) { return r.buildMonitorConfig() }

// buildBackendConfig translates batch_config plus cache_config into
// modules/backend's native Config.
func (r *Root) buildBackendConfig() (backend.Config, error) {
	mode, err := parseBatchMode(r.Batch.Mode)
	if err != nil {
		return backend.Config{}, err
	}
	return backend.Config{
		Cache:           r.Cache,
		Mode:            mode,
		BatchSizeBackup: r.Batch.BatchSize1,
		BatchSizeCDC:    r.Batch.BatchSize2,
		IncValue:        r.Batch.IncValue,
		DecValue:        r.Batch.DecValue,
	}, nil
}

// BuildBackendConfig is the exported form of buildBackendConfig.
func (r *Root) BuildBackendConfig() (backend.Config, error) { return r.buildBackendConfig() }

// BuildDispatcherConfig translates the dispatcher-relevant keys; Coda's
// dispatcher breaker/backoff tuning has no dedicated config block, so
// reasonable fixed defaults are used (the softened-starvation retry
// behavior only requires that these be non-zero).
func (r *Root) BuildDispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		BreakerMaxFailures:     5,
		BreakerResetTimeout:    30_000_000_000, // 30s, in time.Duration nanoseconds
		StarvationRetryBackoff: 10_000_000,     // 10ms
		StarvationMaxRetries:   5,
	}
}

// buildClientConfig translates client_config plus frontend_ips.
// requireFrontendIPs lets Validate check config-file completeness without
// the caller needing a client.New round trip.
func (r *Root) buildClientConfig(requireFrontendIPs bool) (client.Config, error) {
	cfg := client.Config{
		FrontendIPs:      r.FrontendIPs,
		Model:            r.Triton.Model,
		Scale:            parseScale(r.Triton.Scale),
		QueryRate:        r.ClientCfg.QueryRate,
		QueryArrivalDist: r.ClientCfg.QueryArrivalDistribution,
		WorkloadPath:     r.ClientCfg.WorkloadPath,
		TraceFile:        r.ClientCfg.TraceFile,
		BurstSize:        r.ClientCfg.BurstSize,
		OutputCSV:        r.ClientCfg.OutputCSV,
	}
	if requireFrontendIPs {
		if err := cfg.Validate(); err != nil {
			return client.Config{}, err
		}
	}
	return cfg, nil
}

// BuildClientConfig is the exported form of buildClientConfig.
func (r *Root) BuildClientConfig() (client.Config, error) {
	return r.buildClientConfig(true)
}
