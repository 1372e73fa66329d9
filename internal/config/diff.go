package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// Hot-reloadable.
	LogLevelChanged bool
	NewLogLevel     LogLevel
	SrcRatioChanged bool
	NewSrcRatio     RatioConfig

	// RestartRequired lists the keys whose new values only apply after a
	// restart (e.g., "pool.max_voices").
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SrcRatioChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pool.SrcRatio != new.Pool.SrcRatio {
		d.SrcRatioChanged = true
		d.NewSrcRatio = new.Pool.SrcRatio
	}

	restart := []struct {
		key     string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"pool.max_voices", old.Pool.MaxVoices != new.Pool.MaxVoices},
		{"pool.tie_break", old.Pool.TieBreak != new.Pool.TieBreak},
		{"render.interval", old.Render.Interval != new.Render.Interval},
		{"render.frames_per_pass", old.Render.FramesPerPass != new.Render.FramesPerPass},
		{"notify.mode", old.Notify.Mode != new.Notify.Mode},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.key)
		}
	}
	return d
}
