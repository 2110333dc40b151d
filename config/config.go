// ABOUTME: Configuration loader for the central and edge controllers
// ABOUTME: Loads settings from environment variables with defaults

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port               string
	CORSAllowedOrigins []string

	// Intervals and budgets
	CheckInterval         time.Duration // capacity / edge tick
	CollectionInterval    time.Duration // fabric byte-counter window
	StabilizationPeriod   time.Duration // wait after a power-on before trusting samples
	DrainPeriod           time.Duration // connection-drain budget before power-off
	HeartbeatInterval     time.Duration // minimum gap between status re-pushes
	StalenessCap          time.Duration // edge: oldest usable status replica
	ExternalCallTimeout   time.Duration // deadline on every external call
	HighLoadWindow        time.Duration // reactive scale-up lookback
	LowLoadWindow         time.Duration // reactive scale-down lookback

	// Thresholds
	HighCPUThreshold float64
	HighMemThreshold float64
	LowCPUThreshold  float64
	LowMemThreshold  float64

	// Metrics DB (Prometheus-style query API)
	MetricsURL string

	// SDN controller REST API
	SDNControllerURL  string
	SDNUser           string
	SDNPassword       string
	AllProxy          string // ssh+socks5://user@host:port?private-key=... (optional)

	// vSphere (power actuation)
	VSphereHost       string
	VSphereUsername   string
	VSpherePassword   string
	VSphereDatacenter string
	VSphereInsecure   bool

	// Document paths and sync targets
	DataDir          string // persisted state (forecast cache, blacklist, journal, histories)
	StatusFile       string // authoritative status document
	WeightsFile      string // path-selection document
	EdgeSyncURL      string // edge receiver endpoint for the status replica
	SDNSyncURL       string // SDN host receiver endpoint for the weight document
	ReplicaFile      string // edge: local status replica path

	// NAT (edge)
	PublicIP        string
	PublicInterface string
	NATPort         int

	// Path load balancing
	LoadBalancingMode      string  // realtime, prediction, hybrid
	HybridPredictionWeight float64 // share of prediction in hybrid mode
	MinHistoryWindows      int     // windows required before prediction mode

	// Topology file (YAML)
	TopologyFile string
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "5000"),
		CORSAllowedOrigins: getEnvStringList("CORS_ALLOWED_ORIGINS"),

		CheckInterval:       getEnvDuration("CHECK_INTERVAL", 10*time.Second),
		CollectionInterval:  getEnvDuration("COLLECTION_INTERVAL", time.Minute),
		StabilizationPeriod: getEnvDuration("STABILIZATION_PERIOD", 80*time.Second),
		DrainPeriod:         getEnvDuration("DRAIN_PERIOD", 30*time.Second),
		HeartbeatInterval:   getEnvDuration("HEARTBEAT_INTERVAL", time.Minute),
		StalenessCap:        getEnvDuration("STALENESS_CAP", 5*time.Minute),
		ExternalCallTimeout: getEnvDuration("EXTERNAL_CALL_TIMEOUT", 10*time.Second),
		HighLoadWindow:      getEnvDuration("HIGH_LOAD_WINDOW", 5*time.Minute),
		LowLoadWindow:       getEnvDuration("LOW_LOAD_WINDOW", 30*time.Minute),

		HighCPUThreshold: getEnvFloat("HIGH_CPU_THRESHOLD", 90.0),
		HighMemThreshold: getEnvFloat("HIGH_MEM_THRESHOLD", 90.0),
		LowCPUThreshold:  getEnvFloat("LOW_CPU_THRESHOLD", 3.0),
		LowMemThreshold:  getEnvFloat("LOW_MEM_THRESHOLD", 20.0),

		MetricsURL: ensureScheme(os.Getenv("METRICS_URL")),

		SDNControllerURL: ensureScheme(os.Getenv("SDN_CONTROLLER_URL")),
		SDNUser:          os.Getenv("SDN_USER"),
		SDNPassword:      os.Getenv("SDN_PASSWORD"),
		AllProxy:         os.Getenv("ALL_PROXY"),

		VSphereHost:       os.Getenv("VSPHERE_HOST"),
		VSphereUsername:   os.Getenv("VSPHERE_USERNAME"),
		VSpherePassword:   os.Getenv("VSPHERE_PASSWORD"),
		VSphereDatacenter: os.Getenv("VSPHERE_DATACENTER"),
		VSphereInsecure:   getEnvBool("VSPHERE_INSECURE", false),

		DataDir:     getEnv("DATA_DIR", "data"),
		StatusFile:  getEnv("STATUS_FILE", "data/active_servers_status.json"),
		WeightsFile: getEnv("WEIGHTS_FILE", "data/onos_path_selection.json"),
		EdgeSyncURL: ensureScheme(os.Getenv("EDGE_SYNC_URL")),
		SDNSyncURL:  ensureScheme(os.Getenv("SDN_SYNC_URL")),
		ReplicaFile: getEnv("REPLICA_FILE", "data/active_servers_status.json"),

		PublicIP:        os.Getenv("PUBLIC_IP"),
		PublicInterface: getEnv("PUBLIC_INTERFACE", "eth0"),
		NATPort:         getEnvInt("NAT_PORT", 80),

		LoadBalancingMode:      getEnv("LOAD_BALANCING_MODE", "prediction"),
		HybridPredictionWeight: getEnvFloat("HYBRID_PREDICTION_WEIGHT", 0.3),
		MinHistoryWindows:      getEnvInt("MIN_HISTORY_WINDOWS", 10),

		TopologyFile: getEnv("TOPOLOGY_FILE", "topology.yaml"),
	}

	switch cfg.LoadBalancingMode {
	case "realtime", "prediction", "hybrid":
	default:
		return nil, fmt.Errorf("LOAD_BALANCING_MODE must be realtime, prediction, or hybrid, got %q", cfg.LoadBalancingMode)
	}

	if cfg.HybridPredictionWeight < 0 || cfg.HybridPredictionWeight > 1 {
		return nil, fmt.Errorf("HYBRID_PREDICTION_WEIGHT must be within [0,1], got %v", cfg.HybridPredictionWeight)
	}

	if cfg.MinHistoryWindows < 1 {
		return nil, fmt.Errorf("MIN_HISTORY_WINDOWS must be at least 1, got %d", cfg.MinHistoryWindows)
	}

	return cfg, nil
}

// ValidateCentral checks the fields the central controller cannot run without.
func (c *Config) ValidateCentral() error {
	if c.MetricsURL == "" {
		return fmt.Errorf("METRICS_URL is required")
	}
	if c.SDNControllerURL == "" {
		return fmt.Errorf("SDN_CONTROLLER_URL is required")
	}
	return nil
}

// ValidateEdge checks the fields the edge controller cannot run without.
func (c *Config) ValidateEdge() error {
	if c.MetricsURL == "" {
		return fmt.Errorf("METRICS_URL is required")
	}
	if c.PublicIP == "" {
		return fmt.Errorf("PUBLIC_IP is required")
	}
	return nil
}

// VSphereConfigured returns true if vSphere credentials are set.
func (c *Config) VSphereConfigured() bool {
	return c.VSphereHost != "" && c.VSphereUsername != "" && c.VSpherePassword != "" && c.VSphereDatacenter != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvStringList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ensureScheme adds http:// prefix if the URL has no scheme
func ensureScheme(url string) string {
	if url == "" {
		return url
	}
	if !strings.Contains(url, "://") {
		return "http://" + url
	}
	return url
}
