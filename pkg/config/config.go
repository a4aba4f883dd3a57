// Package config loads orchestrator and worker-agent configuration from
// a yaml file with environment-variable overrides, following the
// teacher's preference for yaml.v3-backed config structs. The
// environment variables named in §6 (HODEI_ORCHESTRATOR_HOST,
// HODEI_ORCHESTRATOR_PORT, WORKER_ID, WORKER_LABELS) always win over
// the file when both are present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"gopkg.in/yaml.v3"
)

// OrchestratorConfig configures the orchestrator process.
type OrchestratorConfig struct {
	DataDir           string `yaml:"dataDir"`
	BindAddr          string `yaml:"bindAddr"`
	DriverSocket      string `yaml:"driverSocket"`
	ProcessingTick    string `yaml:"processingTick"` // cron @every expression
	MonitorInterval   string `yaml:"monitorInterval"`
	MetricsAddr       string `yaml:"metricsAddr"`
}

// WorkerConfig configures the worker agent process.
type WorkerConfig struct {
	OrchestratorHost string            `yaml:"orchestratorHost"`
	OrchestratorPort int               `yaml:"orchestratorPort"`
	WorkerID         string            `yaml:"workerId"`
	Labels           map[string]string `yaml:"labels"`
	CacheDir         string            `yaml:"cacheDir"`
	Probes           []ProbeConfig     `yaml:"probes"`
	SessionToken     string            `yaml:"-"` // never serialized; carried out of band
}

// ProbeConfig is the yaml-level declaration of a WorkerTemplate probe
// (§3 Probe), using integer-seconds fields for delay/period the way the
// teacher's wire structs carry durations (e.g. pkg/api/server.go's
// *Seconds fields converted with time.Duration(n)*time.Second) rather
// than relying on yaml.v3 to parse a Go duration string directly.
type ProbeConfig struct {
	Type                string   `yaml:"type"`
	Endpoint            string   `yaml:"endpoint"`
	Command             []string `yaml:"command"`
	InitialDelaySeconds int      `yaml:"initialDelaySeconds"`
	PeriodSeconds       int      `yaml:"periodSeconds"`
	FailureThreshold    int      `yaml:"failureThreshold"`
}

func (p ProbeConfig) toProbe() types.Probe {
	return types.Probe{
		Type:             p.Type,
		Endpoint:         p.Endpoint,
		Command:          p.Command,
		InitialDelay:     time.Duration(p.InitialDelaySeconds) * time.Second,
		Period:           time.Duration(p.PeriodSeconds) * time.Second,
		FailureThreshold: p.FailureThreshold,
	}
}

// ProbeList converts the config's yaml-level probe declarations into the
// domain Probe type the worker agent's readiness gate consumes.
func (c WorkerConfig) ProbeList() []types.Probe {
	out := make([]types.Probe, len(c.Probes))
	for i, p := range c.Probes {
		out[i] = p.toProbe()
	}
	return out
}

// DefaultOrchestratorConfig returns the baked-in defaults used when no
// config file is supplied.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		DataDir:         "/var/lib/hodei",
		BindAddr:        ":7654",
		DriverSocket:    "unix:///var/run/docker.sock",
		ProcessingTick:  "@every 1s",
		MonitorInterval: "@every 15s",
		MetricsAddr:     ":9090",
	}
}

// LoadOrchestratorConfig reads an OrchestratorConfig from path (if
// non-empty) layered over the defaults, then applies environment
// overrides.
func LoadOrchestratorConfig(path string) (OrchestratorConfig, error) {
	cfg := DefaultOrchestratorConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("HODEI_ORCHESTRATOR_HOST"); v != "" {
		host, port := splitHostPort(cfg.BindAddr)
		cfg.BindAddr = joinHostPort(v, port)
		_ = host
	}
	if v := os.Getenv("HODEI_ORCHESTRATOR_PORT"); v != "" {
		host, _ := splitHostPort(cfg.BindAddr)
		cfg.BindAddr = joinHostPort(host, v)
	}
	return cfg, nil
}

// DefaultWorkerConfig returns the baked-in defaults for a worker agent.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		OrchestratorHost: "host.docker.internal",
		OrchestratorPort: 7654,
		CacheDir:         "", // resolved per-worker at runtime, see workeragent
		Labels:           map[string]string{},
	}
}

// LoadWorkerConfig reads a WorkerConfig layered over defaults and
// environment overrides.
func LoadWorkerConfig(path string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("HODEI_ORCHESTRATOR_HOST"); v != "" {
		cfg.OrchestratorHost = v
	}
	if v := os.Getenv("HODEI_ORCHESTRATOR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.OrchestratorPort = p
		}
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		cfg.WorkerID = v
	}
	if v := os.Getenv("WORKER_LABELS"); v != "" {
		cfg.Labels = parseLabels(v)
	}
	return cfg, nil
}

func parseLabels(s string) map[string]string {
	labels := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			labels[kv[0]] = kv[1]
		}
	}
	return labels
}

func splitHostPort(addr string) (string, string) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, ""
	}
	return addr[:idx], addr[idx+1:]
}

func joinHostPort(host, port string) string {
	return host + ":" + port
}
