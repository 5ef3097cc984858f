package worker

import "log/slog"

// Config 控制 Dispatcher 行为。
type Config struct {
	// MaxQueue 为排队任务上限，不含正在执行的任务。
	MaxQueue int
	// RateLimit 为 DoLimited 每秒允许的提交次数，<=0 表示不限速。
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
	Metrics   *Metrics
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 64
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
