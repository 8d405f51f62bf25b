package config

import (
	borisbikes "github.com/mwagstaff/my-boris-bikes-sub000"
)

// Build converts a parsed [Config] into service options.
//
// Unset values are skipped so the service falls back to its own
// defaults; the wake section maps to either an interval or
// [borisbikes.WithWakeDisabled]. The returned options are validated by
// [borisbikes.New], so Build itself cannot fail.
func Build(cfg *Config) []borisbikes.Option {
	var opts []borisbikes.Option

	if cfg.Server.Port != 0 {
		opts = append(opts, borisbikes.WithPort(cfg.Server.Port))
	}
	if cfg.Poll.Interval != 0 {
		opts = append(opts, borisbikes.WithPollInterval(cfg.Poll.Interval.Duration()))
	}
	if cfg.Poll.FetchTimeout != 0 {
		opts = append(opts, borisbikes.WithFetchTimeout(cfg.Poll.FetchTimeout.Duration()))
	}
	if cfg.Session.DefaultExpiry != 0 {
		opts = append(opts, borisbikes.WithDefaultExpiry(cfg.Session.DefaultExpiry.Duration()))
	}
	if cfg.Session.MaxWindow != 0 {
		opts = append(opts, borisbikes.WithMaxSessionWindow(cfg.Session.MaxWindow.Duration()))
	}

	if cfg.Wake.Enabled != nil && !*cfg.Wake.Enabled {
		opts = append(opts, borisbikes.WithWakeDisabled())
	} else if cfg.Wake.Interval != 0 {
		opts = append(opts, borisbikes.WithWakeInterval(cfg.Wake.Interval.Duration()))
	}

	if cfg.TfL.BaseURL != "" {
		opts = append(opts, borisbikes.WithTfLBaseURL(cfg.TfL.BaseURL))
	}
	if cfg.TfL.AppKey != "" {
		opts = append(opts, borisbikes.WithTfLAppKey(cfg.TfL.AppKey))
	}
	if cfg.TfL.Timeout != 0 {
		opts = append(opts, borisbikes.WithTfLTimeout(cfg.TfL.Timeout.Duration()))
	}

	if cfg.PushConfigured() {
		opts = append(opts, borisbikes.WithAPNs(borisbikes.APNsCredentials{
			KeyFile:        cfg.APNs.KeyFile,
			KeyID:          cfg.APNs.KeyID,
			TeamID:         cfg.APNs.TeamID,
			BundleID:       cfg.APNs.BundleID,
			PushTimeout:    cfg.APNs.PushTimeout.Duration(),
			ProductionHost: cfg.APNs.ProductionHost,
			SandboxHost:    cfg.APNs.SandboxHost,
		}))
	}

	if cfg.Storage.Path != "" {
		opts = append(opts, borisbikes.WithStoragePath(cfg.Storage.Path))
	}

	return opts
}
