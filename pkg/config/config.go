// Package config loads pgcontrold's configuration from CLI flags and an
// optional YAML file, matching the option set's defaults and semantics.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/pgcontrold/pkg/log"
)

// Config holds every recognized option. YAML field names match their flag
// names so that a config file mirrors the flags one-to-one.
type Config struct {
	ConsulKeyPrefix                         string `yaml:"consul-key-prefix"`
	ConsulAddr                               string `yaml:"consul-addr"`
	CheckIntervalSeconds                    int    `yaml:"check-interval"`
	ConnectTimeoutSeconds                   int    `yaml:"connect-timeout"`
	AliveCheckFailureThreshold              int    `yaml:"alive-check-failure-threshold"`
	StandbyReplicationCheckFailureThreshold int    `yaml:"standby-replication-check-failure-threshold"`
	ManagementPort                          int    `yaml:"management-port"`
	MetricsPort                             int    `yaml:"metrics-port"`
	HostName                                string `yaml:"host-name"`
	HostIP                                  string `yaml:"host-ip"`

	LogLevel string `yaml:"log-level"`
	LogJSON  bool   `yaml:"log-json"`
}

// Default returns a Config with the §6.4 defaults.
func Default() Config {
	return Config{
		ConsulKeyPrefix:                         "service/postgres",
		ConsulAddr:                               "http://localhost:8500/v1",
		CheckIntervalSeconds:                     10,
		ConnectTimeoutSeconds:                    1,
		AliveCheckFailureThreshold:               1,
		StandbyReplicationCheckFailureThreshold: 4,
		ManagementPort:                           80,
		MetricsPort:                              9187,
		LogLevel:                                 "info",
		LogJSON:                                  false,
	}
}

// CheckInterval returns the check interval as a time.Duration.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// ElectionKey is the well-known KV key cluster members race for.
func (c Config) ElectionKey() string {
	return c.ConsulKeyPrefix + "/master"
}

// LoadFile unmarshals YAML values from path onto cfg, overwriting every
// field present in the file. It does not by itself honor §6's "flags
// override file values": since cfg is a flat struct this file-over-struct
// merge has no way to tell an explicit flag from an untouched default, so
// callers that also parse flags (cmd/pgcontrold) must snapshot the
// flag-applied config beforehand and restore any explicitly-set field
// after calling LoadFile.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	log.WithComponent("config").Info().Str("path", path).Msg("loaded configuration file")
	return nil
}
