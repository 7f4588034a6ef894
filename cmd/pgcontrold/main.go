package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cuemby/pgcontrold/pkg/config"
	"github.com/cuemby/pgcontrold/pkg/log"
	"github.com/cuemby/pgcontrold/pkg/orchestrator"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var cfg = config.Default()
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pgcontrold",
	Short:   "pgcontrold supervises a PostgreSQL instance's role in a Consul-coordinated cluster",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("pgcontrold version %s\nCommit: %s\n", Version, Commit))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file providing defaults for the options below")
	flags.StringVar(&cfg.ConsulKeyPrefix, "consul-key-prefix", cfg.ConsulKeyPrefix, "Prefix for the election and role KV keys")
	flags.StringVar(&cfg.ConsulAddr, "consul-addr", cfg.ConsulAddr, "Base URL of the local Consul agent's HTTP API")
	flags.IntVar(&cfg.CheckIntervalSeconds, "check-interval", cfg.CheckIntervalSeconds, "Seconds between loop iterations")
	flags.IntVar(&cfg.ConnectTimeoutSeconds, "connect-timeout", cfg.ConnectTimeoutSeconds, "Seconds for probe DB connect")
	flags.IntVar(&cfg.AliveCheckFailureThreshold, "alive-check-failure-threshold", cfg.AliveCheckFailureThreshold, "Consecutive failures to flip the alive check")
	flags.IntVar(&cfg.StandbyReplicationCheckFailureThreshold, "standby-replication-check-failure-threshold", cfg.StandbyReplicationCheckFailureThreshold, "Consecutive failures to flip the replication check")
	flags.IntVar(&cfg.ManagementPort, "management-port", cfg.ManagementPort, "HTTP port for /controller/*")
	flags.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Port for the Prometheus /metrics listener; 0 disables it")
	flags.StringVar(&cfg.HostName, "host-name", cfg.HostName, "Identity for the role-key path and KV node field")
	flags.StringVar(&cfg.HostIP, "host-ip", cfg.HostIP, "IP written into the election KV value")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Output logs in JSON format")

	cobra.OnInitialize(loadConfigFile, initLogging)

	rootCmd.AddCommand(runCmd)
}

// loadConfigFile is called via cobra.OnInitialize, i.e. after pflag has
// already parsed the command line into cfg. At that point cfg holds each
// flag's default or, for flags the user passed explicitly, its command-line
// value. config.LoadFile then unmarshals the YAML file on top of cfg, which
// would silently let the file override an explicit flag. To keep flags
// winning (SPEC_FULL §6, config.go's own "flags override file values"
// contract), snapshot the flag-applied values first and restore every flag
// the user actually set after the file is loaded.
func loadConfigFile() {
	if configPath == "" {
		return
	}

	flagCfg := cfg
	if err := config.LoadFile(&cfg, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
		os.Exit(1)
	}
	restoreExplicitFlags(&cfg, flagCfg, rootCmd.PersistentFlags())
}

// restoreExplicitFlags copies each field whose flag was explicitly set by
// the user from flagCfg back into cfg, undoing any override the config file
// just applied to that field.
func restoreExplicitFlags(cfg *config.Config, flagCfg config.Config, flags *pflag.FlagSet) {
	changed := func(name string) bool { return flags.Changed(name) }

	if changed("consul-key-prefix") {
		cfg.ConsulKeyPrefix = flagCfg.ConsulKeyPrefix
	}
	if changed("consul-addr") {
		cfg.ConsulAddr = flagCfg.ConsulAddr
	}
	if changed("check-interval") {
		cfg.CheckIntervalSeconds = flagCfg.CheckIntervalSeconds
	}
	if changed("connect-timeout") {
		cfg.ConnectTimeoutSeconds = flagCfg.ConnectTimeoutSeconds
	}
	if changed("alive-check-failure-threshold") {
		cfg.AliveCheckFailureThreshold = flagCfg.AliveCheckFailureThreshold
	}
	if changed("standby-replication-check-failure-threshold") {
		cfg.StandbyReplicationCheckFailureThreshold = flagCfg.StandbyReplicationCheckFailureThreshold
	}
	if changed("management-port") {
		cfg.ManagementPort = flagCfg.ManagementPort
	}
	if changed("metrics-port") {
		cfg.MetricsPort = flagCfg.MetricsPort
	}
	if changed("host-name") {
		cfg.HostName = flagCfg.HostName
	}
	if changed("host-ip") {
		cfg.HostIP = flagCfg.HostIP
	}
	if changed("log-level") {
		cfg.LogLevel = flagCfg.LogLevel
	}
	if changed("log-json") {
		cfg.LogJSON = flagCfg.LogJSON
	}
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisory daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.HostName == "" {
			return fmt.Errorf("--host-name is required")
		}
		if cfg.HostIP == "" {
			return fmt.Errorf("--host-ip is required")
		}

		o := orchestrator.New(cfg)
		return o.Run(context.Background())
	},
}
