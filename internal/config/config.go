// Package config loads broker configuration from the environment, with an
// optional .env file discovered next to the executable.
package config

import (
	"os"
	"strconv"
	"time"
)

// Options holds all recognised configuration. Every field has a working
// default; no option is required for startup.
type Options struct {
	// Task manager.
	MaxConcurrentTasks int           // worker pool size
	MaxRetries         int           // per-task retry cap
	DefaultTaskTimeout time.Duration // per-task deadline
	QueueSoftLimit     int           // submit fails QueueFull beyond this
	EnableCache        bool
	EnablePersistence  bool
	CacheFile          string // append-only cache records
	TaskLogFile        string // line-delimited task transitions

	// Downstream endpoints.
	HTTPPort int // REST surface for interactive clients / diagnostics
	WSPort   int // WebSocket surface for interactive clients

	// Dispatch behaviour.
	ClientCallTimeout     time.Duration // client-side tool deadline
	LocalCallTimeout      time.Duration // pure-local handler deadline
	AutoOpenVisualization bool

	// Upstream services. Empty key fields degrade the matching handlers to
	// NotConfigured results; no upstream is required for startup.
	UniProtBaseURL  string
	InterProBaseURL string
	PDBBaseURL      string
	AlphaFoldBase   string
	NCBIBaseURL     string
	NCBIAPIKey      string
	KEGGBaseURL     string
	EnsemblBaseURL  string
	EBIToolsBaseURL string
	BLASTBaseURL    string
	EVO2BaseURL     string
	EVO2APIKey      string
	UpstreamTimeout time.Duration

	// Telemetry.
	OTELEnabled  bool
	OTLPEndpoint string
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables with defaults matching
// the documented option table.
func Load() *Options {
	return &Options{
		MaxConcurrentTasks: envInt("MAX_CONCURRENT_TASKS", 3),
		MaxRetries:         envInt("MAX_RETRIES", 2),
		DefaultTaskTimeout: time.Duration(envInt("DEFAULT_TIMEOUT_MS", 300_000)) * time.Millisecond,
		QueueSoftLimit:     envInt("TASK_QUEUE_LIMIT", 256),
		EnableCache:        envBool("ENABLE_CACHE", true),
		EnablePersistence:  envBool("ENABLE_PERSISTENCE", false),
		CacheFile:          envStr("CACHE_FILE", "gbridge-cache.jsonl"),
		TaskLogFile:        envStr("TASK_LOG_FILE", "gbridge-tasks.jsonl"),

		HTTPPort: envInt("HTTP_PORT", 3002),
		WSPort:   envInt("WS_PORT", 3003),

		ClientCallTimeout:     time.Duration(envInt("CLIENT_TIMEOUT_MS", 60_000)) * time.Millisecond,
		LocalCallTimeout:      time.Duration(envInt("LOCAL_TIMEOUT_MS", 5_000)) * time.Millisecond,
		AutoOpenVisualization: envBool("AUTO_OPEN_VISUALIZATION", true),

		UniProtBaseURL:  envStr("UNIPROT_BASE_URL", "https://rest.uniprot.org"),
		InterProBaseURL: envStr("INTERPRO_BASE_URL", "https://www.ebi.ac.uk/interpro/api"),
		PDBBaseURL:      envStr("PDB_BASE_URL", "https://data.rcsb.org/rest/v1"),
		AlphaFoldBase:   envStr("ALPHAFOLD_BASE_URL", "https://alphafold.ebi.ac.uk/api"),
		NCBIBaseURL:     envStr("NCBI_BASE_URL", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"),
		NCBIAPIKey:      envStr("NCBI_API_KEY", ""),
		KEGGBaseURL:     envStr("KEGG_BASE_URL", "https://rest.kegg.jp"),
		EnsemblBaseURL:  envStr("ENSEMBL_BASE_URL", "https://rest.ensembl.org"),
		EBIToolsBaseURL: envStr("EBI_TOOLS_BASE_URL", "https://www.ebi.ac.uk/Tools/services/rest"),
		BLASTBaseURL:    envStr("BLAST_BASE_URL", "https://blast.ncbi.nlm.nih.gov/Blast.cgi"),
		EVO2BaseURL:     envStr("EVO2_BASE_URL", ""),
		EVO2APIKey:      envStr("EVO2_API_KEY", ""),
		UpstreamTimeout: time.Duration(envInt("UPSTREAM_TIMEOUT_MS", 30_000)) * time.Millisecond,

		OTELEnabled:  envBool("OTEL_ENABLED", false),
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "genome-bridge"),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
