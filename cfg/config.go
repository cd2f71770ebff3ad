package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ClusterConfiguration controls the cluster endpoint and the initial view
type ClusterConfiguration struct {
	BindAddress      string   `toml:"bind_address"`
	AdvertiseAddress string   `toml:"advertise_address"` // Address other nodes use to reach us (defaults to hostname:port)
	Port             int      `toml:"port"`
	Members          []string `toml:"members"` // Initial view; advertise address is added when missing
	InitialViewID    uint64   `toml:"initial_view_id"`
	ClusterSecret    string   `toml:"cluster_secret"` // PSK for peer and admin authentication
}

// ReconcileConfiguration controls reconciliation rounds
type ReconcileConfiguration struct {
	AckTimeoutMS   int `toml:"ack_timeout_ms"`   // Per-attempt budget for collecting every member's state
	PollIntervalMS int `toml:"poll_interval_ms"` // Fallback re-evaluation interval while waiting
	MaxAttempts    int `toml:"max_attempts"`     // 0 = retry while the view stays active
}

// DataSyncConfiguration is advertised to peers in every node state report
type DataSyncConfiguration struct {
	Mode string `toml:"mode"` // "snapshot" or "journal"
	Port int    `toml:"port"`
}

// TransportConfiguration controls the gRPC gateway
type TransportConfiguration struct {
	SendTimeoutMS           int `toml:"send_timeout_ms"`
	KeepaliveTimeSeconds    int `toml:"keepalive_time_seconds"`
	KeepaliveTimeoutSeconds int `toml:"keepalive_timeout_seconds"`
	CompressionLevel        int `toml:"compression_level"` // 0 = disabled, 1-4 = zstd level
}

// EngineConfiguration controls the local commit log
type EngineConfiguration struct {
	Path string `toml:"path"` // Relative to data_dir when not absolute
}

// SinkConfiguration defines one decision journal sink
type SinkConfiguration struct {
	Name           string   `toml:"name"`
	Type           string   `toml:"type"`   // "kafka" or "nats"
	Format         string   `toml:"format"` // "json" or "msgpack"
	Brokers        []string `toml:"brokers"`
	NatsURL        string   `toml:"nats_url"`
	TopicPrefix    string   `toml:"topic_prefix"`
	FilterOutcomes []string `toml:"filter_outcomes"` // Glob patterns over decision outcomes
	BatchSize      int      `toml:"batch_size"`
	PollIntervalMS int      `toml:"poll_interval_ms"`
	RetryInitialMS int      `toml:"retry_initial_ms"`
	RetryMaxMS     int      `toml:"retry_max_ms"`
	MaxRetries     int      `toml:"max_retries"`
}

// JournalConfiguration controls publishing of reconciliation decisions
type JournalConfiguration struct {
	Enabled bool                `toml:"enabled"`
	Sinks   []SinkConfiguration `toml:"sinks"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration controls the HTTP admin API
type AdminConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Cluster    ClusterConfiguration    `toml:"cluster"`
	Reconcile  ReconcileConfiguration  `toml:"reconcile"`
	DataSync   DataSyncConfiguration   `toml:"data_sync"`
	Transport  TransportConfiguration  `toml:"transport"`
	Engine     EngineConfiguration     `toml:"engine"`
	Journal    JournalConfiguration    `toml:"journal"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	PortFlag       = flag.Int("port", 0, "Cluster port (overrides config)")
	MembersFlag    = flag.String("members", "", "Comma separated initial members (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./viewsync-data",

	Cluster: ClusterConfiguration{
		BindAddress:   "0.0.0.0",
		Port:          7400,
		Members:       []string{},
		InitialViewID: 1,
	},

	Reconcile: ReconcileConfiguration{
		AckTimeoutMS:   2000,
		PollIntervalMS: 10,
		MaxAttempts:    0,
	},

	DataSync: DataSyncConfiguration{
		Mode: "snapshot",
		Port: 7401,
	},

	Transport: TransportConfiguration{
		SendTimeoutMS:           1000,
		KeepaliveTimeSeconds:    10,
		KeepaliveTimeoutSeconds: 3,
		CompressionLevel:        0,
	},

	Engine: EngineConfiguration{
		Path: "commit_log",
	},

	Journal: JournalConfiguration{
		Enabled: false,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *PortFlag != 0 {
		Config.Cluster.Port = *PortFlag
	}
	if *MembersFlag != "" {
		Config.Cluster.Members = splitMembers(*MembersFlag)
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

func splitMembers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("viewsync")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Cluster.Port < 1 || Config.Cluster.Port > 65535 {
		return fmt.Errorf("invalid cluster port: %d", Config.Cluster.Port)
	}

	if Config.Cluster.AdvertiseAddress == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get hostname, using localhost")
			hostname = "localhost"
		}
		Config.Cluster.AdvertiseAddress = fmt.Sprintf("%s:%d", hostname, Config.Cluster.Port)
		log.Info().
			Str("advertise_address", Config.Cluster.AdvertiseAddress).
			Msg("Auto-configured advertise address")
	}

	if Config.Cluster.InitialViewID == 0 {
		return fmt.Errorf("initial view id must be >= 1")
	}

	if Config.Reconcile.AckTimeoutMS < 1 {
		return fmt.Errorf("reconcile ack timeout must be >= 1ms")
	}

	if Config.Reconcile.PollIntervalMS < 1 {
		return fmt.Errorf("reconcile poll interval must be >= 1ms")
	}

	if Config.Reconcile.PollIntervalMS > Config.Reconcile.AckTimeoutMS {
		return fmt.Errorf("reconcile poll interval (%dms) must not exceed ack timeout (%dms)",
			Config.Reconcile.PollIntervalMS, Config.Reconcile.AckTimeoutMS)
	}

	if Config.Reconcile.MaxAttempts < 0 {
		return fmt.Errorf("reconcile max attempts must be >= 0")
	}

	switch strings.ToLower(Config.DataSync.Mode) {
	case "snapshot", "journal":
	default:
		return fmt.Errorf("invalid data sync mode: %s", Config.DataSync.Mode)
	}

	if Config.DataSync.Port < 0 || Config.DataSync.Port > 65535 {
		return fmt.Errorf("invalid data sync port: %d", Config.DataSync.Port)
	}

	if Config.Transport.SendTimeoutMS < 1 {
		return fmt.Errorf("transport send timeout must be >= 1ms")
	}

	if Config.Transport.KeepaliveTimeSeconds < 1 {
		return fmt.Errorf("transport keepalive time must be >= 1 second")
	}

	if Config.Transport.KeepaliveTimeoutSeconds < 1 {
		return fmt.Errorf("transport keepalive timeout must be >= 1 second")
	}

	if Config.Transport.CompressionLevel < 0 || Config.Transport.CompressionLevel > 4 {
		return fmt.Errorf("transport compression level must be 0-4, got %d", Config.Transport.CompressionLevel)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Journal.Enabled {
		seen := make(map[string]bool)
		for _, sink := range Config.Journal.Sinks {
			if sink.Name == "" {
				return fmt.Errorf("journal sink name is required")
			}
			if seen[sink.Name] {
				return fmt.Errorf("duplicate journal sink name: %s", sink.Name)
			}
			seen[sink.Name] = true

			switch sink.Type {
			case "kafka":
				if len(sink.Brokers) == 0 {
					return fmt.Errorf("journal sink %s: kafka requires brokers", sink.Name)
				}
			case "nats":
				if sink.NatsURL == "" {
					return fmt.Errorf("journal sink %s: nats requires nats_url", sink.Name)
				}
			default:
				return fmt.Errorf("journal sink %s: unknown type %q", sink.Name, sink.Type)
			}

			if sink.Format != "" && sink.Format != "json" && sink.Format != "msgpack" {
				return fmt.Errorf("journal sink %s: invalid format %q", sink.Name, sink.Format)
			}
		}
	}

	return nil
}

// IsClusterAuthEnabled reports whether a cluster secret is configured
func IsClusterAuthEnabled() bool {
	return Config != nil && Config.Cluster.ClusterSecret != ""
}

// GetClusterSecret returns the configured cluster secret
func GetClusterSecret() string {
	if Config == nil {
		return ""
	}
	return Config.Cluster.ClusterSecret
}
