package domain

import "time"

// Settings are the engine knobs resolved from flags, environment and the settings file.
type Settings struct {
	File             string        `mapstructure:"file"`
	Jobs             int           `mapstructure:"jobs"`
	CacheFile        string        `mapstructure:"cache_file"`
	DefaultTarget    string        `mapstructure:"default_target"`
	Quiet            bool          `mapstructure:"quiet"`
	AbortOnInterrupt bool          `mapstructure:"abort_on_interrupt"`
	VerifyCache      bool          `mapstructure:"verify_cache"`
	LogJSON          bool          `mapstructure:"log_json"`
	WatchDebounce    time.Duration `mapstructure:"watch_debounce"`
}
