package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// EnvPrefix prefixes environment overrides, e.g. KILN_JOBS=4.
const EnvPrefix = "KILN"

// Setting keys. Flags use the same names with dashes.
const (
	KeyFile             = "file"
	KeyJobs             = "jobs"
	KeyCacheFile        = "cache_file"
	KeyDefaultTarget    = "default_target"
	KeyQuiet            = "quiet"
	KeyAbortOnInterrupt = "abort_on_interrupt"
	KeyVerifyCache      = "verify_cache"
	KeyLogJSON          = "log_json"
	KeyWatchDebounce    = "watch_debounce"
)

// NoVerifyCacheFlag disables verify_cache when set on the command line.
const NoVerifyCacheFlag = "no-verify-cache"

// LoadSettings resolves engine settings. Precedence, highest first: flags,
// KILN_* environment variables, .kiln.yaml in dir, defaults.
// flags may be nil.
func LoadSettings(dir string, flags *pflag.FlagSet) (domain.Settings, error) {
	v := viper.New()

	v.SetDefault(KeyFile, "")
	v.SetDefault(KeyJobs, runtime.NumCPU())
	v.SetDefault(KeyCacheFile, "")
	v.SetDefault(KeyDefaultTarget, "")
	v.SetDefault(KeyQuiet, false)
	v.SetDefault(KeyAbortOnInterrupt, false)
	v.SetDefault(KeyVerifyCache, true)
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyWatchDebounce, domain.DefaultWatchDebounce)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	settingsFile := filepath.Join(dir, domain.SettingsFileName)
	if info, err := os.Stat(settingsFile); err == nil && !info.IsDir() {
		v.SetConfigFile(settingsFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				err := zerr.Wrap(domain.ErrInvalidSettings, err.Error())
				return domain.Settings{}, zerr.With(err, "path", settingsFile)
			}
		}
	}

	if flags != nil {
		for _, key := range []string{KeyFile, KeyJobs, KeyCacheFile, KeyQuiet, KeyAbortOnInterrupt, KeyLogJSON} {
			flag := flags.Lookup(strings.ReplaceAll(key, "_", "-"))
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return domain.Settings{}, zerr.With(zerr.Wrap(domain.ErrInvalidSettings, err.Error()), "flag", flag.Name)
			}
		}
	}

	var s domain.Settings
	if err := v.Unmarshal(&s); err != nil {
		return domain.Settings{}, zerr.Wrap(domain.ErrInvalidSettings, err.Error())
	}

	if flags != nil && flags.Changed(NoVerifyCacheFlag) {
		if off, err := flags.GetBool(NoVerifyCacheFlag); err == nil && off {
			s.VerifyCache = false
		}
	}

	if err := validateSettings(s); err != nil {
		return domain.Settings{}, err
	}
	return s, nil
}

func validateSettings(s domain.Settings) error {
	if s.Jobs < 1 {
		return zerr.With(zerr.Wrap(domain.ErrInvalidSettings, "jobs must be at least 1"), KeyJobs, s.Jobs)
	}
	if s.WatchDebounce < 0 {
		err := zerr.Wrap(domain.ErrInvalidSettings, "watch_debounce must not be negative")
		return zerr.With(err, KeyWatchDebounce, s.WatchDebounce.String())
	}
	return nil
}
