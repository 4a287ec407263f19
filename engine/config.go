package engine

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/pbnjay/memory"

	"github.com/joeycumines/go-asynctransport/errs"
)

// tomlConfig mirrors Config's file-configurable fields; NewDemultiplexer,
// RebalanceHook and Logger have no textual representation and are left to
// the programmatic Config the caller merges this into.
type tomlConfig struct {
	NumWorkers             int     `toml:"num_workers"`
	MinThreads             int     `toml:"min_threads"`
	MaxThreads             int     `toml:"max_threads"`
	ScalingEnabled         bool    `toml:"scaling_enabled"`
	ScaleUpLoadThreshold   float64 `toml:"scale_up_load_threshold"`
	ScaleDownLoadThreshold float64 `toml:"scale_down_load_threshold"`
	ScalingIntervalMS      int     `toml:"scaling_interval_ms"`
	LoadBalanceEnabled     bool    `toml:"load_balance_enabled"`
	HysteresisThreshold    float64 `toml:"hysteresis_threshold"`
	LoadBalanceIntervalMS  int     `toml:"load_balance_interval_ms"`
	LoadAlpha              float64 `toml:"load_alpha"`
	LoadBeta               float64 `toml:"load_beta"`
	MaxConnections         int     `toml:"max_connections"`
	DefaultListenerBacklog int     `toml:"default_listener_backlog"`
	DefaultBlobSegmentSize int     `toml:"default_blob_segment_size"`
	AutoMemLimit           bool    `toml:"auto_mem_limit"`
	AutoMemLimitRatio      float64 `toml:"auto_mem_limit_ratio"`
}

// LoadConfigTOML decodes a TOML document at path into base's file-backed
// fields, returning the merged Config. base supplies everything a TOML
// document cannot express (NewDemultiplexer, RebalanceHook, Logger).
func LoadConfigTOML(path string, base Config) (Config, error) {
	var tc tomlConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return Config{}, errs.Wrap(errs.CategoryGeneric, errs.Invalid, "engine.loadconfigtoml", err)
	}
	if tc.NumWorkers != 0 {
		base.NumWorkers = tc.NumWorkers
	}
	if tc.MinThreads != 0 {
		base.MinThreads = tc.MinThreads
	}
	if tc.MaxThreads != 0 {
		base.MaxThreads = tc.MaxThreads
	}
	base.ScalingEnabled = base.ScalingEnabled || tc.ScalingEnabled
	if tc.ScaleUpLoadThreshold != 0 {
		base.ScaleUpLoadThreshold = tc.ScaleUpLoadThreshold
	}
	if tc.ScaleDownLoadThreshold != 0 {
		base.ScaleDownLoadThreshold = tc.ScaleDownLoadThreshold
	}
	if tc.ScalingIntervalMS != 0 {
		base.ScalingInterval = time.Duration(tc.ScalingIntervalMS) * time.Millisecond
	}
	base.LoadBalanceEnabled = base.LoadBalanceEnabled || tc.LoadBalanceEnabled
	if tc.HysteresisThreshold != 0 {
		base.HysteresisThreshold = tc.HysteresisThreshold
	}
	if tc.LoadBalanceIntervalMS != 0 {
		base.LoadBalanceInterval = time.Duration(tc.LoadBalanceIntervalMS) * time.Millisecond
	}
	if tc.LoadAlpha != 0 {
		base.LoadAlpha = tc.LoadAlpha
	}
	if tc.LoadBeta != 0 {
		base.LoadBeta = tc.LoadBeta
	}
	if tc.MaxConnections != 0 {
		base.MaxConnections = tc.MaxConnections
	}
	if tc.DefaultListenerBacklog != 0 {
		base.DefaultListenerBacklog = tc.DefaultListenerBacklog
	}
	if tc.DefaultBlobSegmentSize != 0 {
		base.DefaultBlobSegmentSize = tc.DefaultBlobSegmentSize
	}
	if tc.AutoMemLimit {
		ratio := tc.AutoMemLimitRatio
		if ratio <= 0 {
			ratio = 0.9
		}
		_, _ = memlimit.SetGoMemLimitWithOptions(memlimit.WithRatio(ratio))
	}
	return withDefaults(base), nil
}

// applySystemDefaults fills MaxConnections, DefaultListenerBacklog and
// DefaultBlobSegmentSize from system memory when the caller left them at
// zero, per the DOMAIN STACK's pbnjay/memory wiring.
func applySystemDefaults(cfg *Config) {
	if cfg.MaxConnections > 0 && cfg.DefaultListenerBacklog > 0 && cfg.DefaultBlobSegmentSize > 0 {
		return
	}
	total := memory.TotalMemory()
	// Budget roughly 64KiB of worst-case per-connection buffering, capped
	// to a sane range regardless of how much RAM is visible.
	estimate := int(total / (64 * 1024))
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = clampInt(estimate, 1024, 1<<20)
	}
	if cfg.DefaultListenerBacklog <= 0 {
		cfg.DefaultListenerBacklog = clampInt(cfg.MaxConnections/16, 16, 4096)
	}
	if cfg.DefaultBlobSegmentSize <= 0 {
		cfg.DefaultBlobSegmentSize = 16 * 1024
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
