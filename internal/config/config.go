// Package config loads and validates BridgeFS configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/bridgefs/bridgefs/internal/fsops/s3"
	"github.com/bridgefs/bridgefs/internal/metrics"
)

// Backend kinds accepted in BackendConfig.Type.
const (
	BackendMirror = "mirror"
	BackendS3     = "s3"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global  GlobalConfig   `yaml:"global"`
	Mount   MountConfig    `yaml:"mount"`
	Backend BackendConfig  `yaml:"backend"`
	Metrics metrics.Config `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// MountConfig represents mount parameters
type MountConfig struct {
	MountPoint       string `yaml:"mount_point"`
	VolumeName       string `yaml:"volume_name"`
	MountFlags       string `yaml:"mount_flags"`
	ReadOnly         bool   `yaml:"read_only"`
	Port             int    `yaml:"port"`
	LoopbackHostName string `yaml:"loopback_host_name"`

	// RequiredCapabilities narrows provider selection, by wire name
	// (e.g. "READ_ONLY", "UNMOUNT_FORCED").
	RequiredCapabilities []string `yaml:"required_capabilities"`
}

// BackendConfig selects and configures the operations object behind the
// mount.
type BackendConfig struct {
	Type   string    `yaml:"type"`
	Mirror string    `yaml:"mirror_root"`
	S3     s3.Config `yaml:"s3"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Mount: MountConfig{
			VolumeName:       "bridgefs",
			LoopbackHostName: "localhost",
		},
		Backend: BackendConfig{
			Type: BackendMirror,
		},
		Metrics: *metrics.DefaultConfig(),
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("BRIDGEFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("BRIDGEFS_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("BRIDGEFS_MOUNT_POINT"); val != "" {
		c.Mount.MountPoint = val
	}
	if val := os.Getenv("BRIDGEFS_VOLUME_NAME"); val != "" {
		c.Mount.VolumeName = val
	}
	if val := os.Getenv("BRIDGEFS_MOUNT_FLAGS"); val != "" {
		c.Mount.MountFlags = val
	}
	if val := os.Getenv("BRIDGEFS_READ_ONLY"); val != "" {
		c.Mount.ReadOnly = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("BRIDGEFS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Mount.Port = port
		}
	}
	if val := os.Getenv("BRIDGEFS_BACKEND"); val != "" {
		c.Backend.Type = val
	}
	if val := os.Getenv("BRIDGEFS_MIRROR_ROOT"); val != "" {
		c.Backend.Mirror = val
	}
	if val := os.Getenv("BRIDGEFS_S3_BUCKET"); val != "" {
		c.Backend.S3.Bucket = val
	}
	if val := os.Getenv("BRIDGEFS_S3_REGION"); val != "" {
		c.Backend.S3.Region = val
	}
	if val := os.Getenv("BRIDGEFS_S3_ENDPOINT"); val != "" {
		c.Backend.S3.Endpoint = val
	}
	if val := os.Getenv("BRIDGEFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Backend.Type {
	case BackendMirror:
		if c.Backend.Mirror == "" {
			return fmt.Errorf("mirror_root is required for the mirror backend")
		}
	case BackendS3:
		if c.Backend.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported backend type: %s (only %s and %s supported)",
			c.Backend.Type, BackendMirror, BackendS3)
	}

	if c.Mount.Port < 0 || c.Mount.Port > 65535 {
		return fmt.Errorf("mount port out of range: %d", c.Mount.Port)
	}
	return nil
}
