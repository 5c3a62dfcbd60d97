// Package config holds profile settings for file transfers: where the
// profile lives, transfer size limits and the log level.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kirsle/configdir"
	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/limits"
	"github.com/sirupsen/logrus"
)

// AppName names the profile directory under the user's config root.
const AppName = "toxfile"

// Environment variables read by Load.
const (
	EnvProfileDir    = "TOXFILE_PROFILE_DIR"
	EnvLogLevel      = "TOXFILE_LOG_LEVEL"
	EnvMaxAvatarSize = "TOXFILE_MAX_AVATAR_SIZE"
	EnvChunkSize     = "TOXFILE_CHUNK_SIZE"
)

var (
	// ErrInvalidChunkSize indicates a chunk size of zero or above
	// limits.MaxChunkSize.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrEmptyProfileDir indicates a configuration without a profile root.
	ErrEmptyProfileDir = errors.New("profile directory not set")
)

// Config holds profile settings.
type Config struct {
	// ProfileDir is the profile root. Avatars live in its avatars
	// subdirectory.
	ProfileDir string

	// MaxAvatarSize bounds accepted avatar offers. Zero means
	// limits.MaxAvatarSize.
	MaxAvatarSize uint64

	// ChunkSize is the chunk length requested from senders.
	ChunkSize int

	// LogLevel is a logrus level name.
	LogLevel string
}

// Default returns the default configuration rooted in the user's local
// config directory.
func Default() *Config {
	return &Config{
		ProfileDir:    configdir.LocalConfig(AppName),
		MaxAvatarSize: limits.MaxAvatarSize,
		ChunkSize:     limits.DefaultChunkSize,
		LogLevel:      logrus.InfoLevel.String(),
	}
}

// Load returns the default configuration with environment overrides
// applied. Unparseable values are logged and ignored.
func Load() *Config {
	cfg := Default()
	cfg.applyEnvironment(os.LookupEnv)
	return cfg
}

// applyEnvironment overrides fields from lookup, which has the signature of
// os.LookupEnv.
func (c *Config) applyEnvironment(lookup func(string) (string, bool)) {
	if dir, ok := lookup(EnvProfileDir); ok && dir != "" {
		c.ProfileDir = dir
	}

	if level, ok := lookup(EnvLogLevel); ok && level != "" {
		if _, err := logrus.ParseLevel(level); err != nil {
			warnEnv(EnvLogLevel, level, err, c.LogLevel)
		} else {
			c.LogLevel = level
		}
	}

	if raw, ok := lookup(EnvMaxAvatarSize); ok && raw != "" {
		size, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			warnEnv(EnvMaxAvatarSize, raw, err, c.MaxAvatarSize)
		} else {
			c.MaxAvatarSize = size
		}
	}

	if raw, ok := lookup(EnvChunkSize); ok && raw != "" {
		size, err := strconv.Atoi(raw)
		if err == nil {
			err = validateChunkSize(size)
		}
		if err != nil {
			warnEnv(EnvChunkSize, raw, err, c.ChunkSize)
		} else {
			c.ChunkSize = size
		}
	}
}

func warnEnv(name, value string, err error, using interface{}) {
	logrus.WithFields(logrus.Fields{
		"function":    "applyEnvironment",
		"env_var":     name,
		"value":       value,
		"error":       err.Error(),
		"using_value": using,
	}).Warn("Failed to parse environment variable, using default")
}

func validateChunkSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, size)
	}
	if err := limits.ValidateChunkLength(size); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunkSize, err)
	}
	return nil
}

// Validate checks the configuration for values no transfer could use.
func (c *Config) Validate() error {
	if c.ProfileDir == "" {
		return ErrEmptyProfileDir
	}
	if err := validateChunkSize(c.ChunkSize); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Level returns the parsed log level, falling back to Info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// ApplyLogLevel sets the standard logger's level.
func (c *Config) ApplyLogLevel() {
	logrus.SetLevel(c.Level())
}

// AvatarDir returns the directory holding friends' avatars.
func (c *Config) AvatarDir() string {
	return filepath.Join(c.ProfileDir, "avatars")
}

// AvatarPath returns the stored avatar location for a friend's public key.
func (c *Config) AvatarPath(pk crypto.PublicKey) string {
	return filepath.Join(c.AvatarDir(), pk.String()+".png")
}

// EnsureProfileDir creates the profile root if it does not exist.
func (c *Config) EnsureProfileDir() error {
	if err := configdir.MakePath(c.ProfileDir); err != nil {
		return fmt.Errorf("create profile directory %s: %w", c.ProfileDir, err)
	}
	return nil
}
