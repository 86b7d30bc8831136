package zuscore

import (
	"os"
	"strconv"

	"github.com/anvilfs/zuscore/internal/constants"
	"github.com/anvilfs/zuscore/internal/logging"
)

// MlockMode names a memory-locking policy for the daemon's mapped
// regions. The mode is parsed and stored in Config, but nothing in the
// daemon acts on it: no mlock call is made in any mode, and startup
// does not fail in any mode.
type MlockMode int

const (
	MlockAuto MlockMode = iota
	MlockOff
	MlockRequired
)

// Config is the daemon's env-driven configuration surface.
type Config struct {
	// RootPath is the kernel handle path the transport opens. Defaults
	// to constants.DefaultRootPath, overridable via ZUSCORE_ROOT_PATH.
	RootPath string

	// LogLevel sets the ambient logger's level. Defaults to
	// logging.LevelInfo, overridable via ZUSCORE_LOG_LEVEL
	// (debug|info|warn|error).
	LogLevel logging.LogLevel

	// Mlock holds the MlockMode, overridable via ZUSCORE_MLOCK
	// (auto|off|required); it is stored only, see MlockMode.
	Mlock MlockMode

	// Channels is the number of channels (logical request pipelines)
	// started per cpu, one zu-thread each, overridable via
	// ZUSCORE_CHANNELS. 0 selects constants.DefaultMaxChannels.
	Channels int
}

// DefaultConfig returns the configuration a daemon starts with before
// any environment overrides are applied.
func DefaultConfig() Config {
	return Config{
		RootPath: constants.DefaultRootPath,
		LogLevel: logging.LevelInfo,
		Mlock:    MlockAuto,
		Channels: constants.DefaultMaxChannels,
	}
}

// ConfigFromEnv builds a Config starting from DefaultConfig and
// applying any ZUSCORE_* environment overrides found.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("ZUSCORE_ROOT_PATH"); v != "" {
		cfg.RootPath = v
	}
	if v := os.Getenv("ZUSCORE_LOG_LEVEL"); v != "" {
		if lvl, ok := parseLogLevel(v); ok {
			cfg.LogLevel = lvl
		}
	}
	if v := os.Getenv("ZUSCORE_MLOCK"); v != "" {
		if mode, ok := parseMlockMode(v); ok {
			cfg.Mlock = mode
		}
	}
	if v := os.Getenv("ZUSCORE_CHANNELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Channels = n
		}
	}

	return cfg
}

func parseLogLevel(v string) (logging.LogLevel, bool) {
	switch v {
	case "debug":
		return logging.LevelDebug, true
	case "info":
		return logging.LevelInfo, true
	case "warn":
		return logging.LevelWarn, true
	case "error":
		return logging.LevelError, true
	default:
		return 0, false
	}
}

func parseMlockMode(v string) (MlockMode, bool) {
	switch v {
	case "auto":
		return MlockAuto, true
	case "off":
		return MlockOff, true
	case "required":
		return MlockRequired, true
	default:
		return 0, false
	}
}
