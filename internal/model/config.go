package model

import "time"

// Config represents the complete dtprivacy configuration
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Oracle      OracleConfig      `yaml:"oracle" mapstructure:"oracle"`
	Stages      StagesConfig      `yaml:"stages" mapstructure:"stages"`
	Regulations RegulationsConfig `yaml:"regulations" mapstructure:"regulations"`
	Harvest     HarvestConfig     `yaml:"harvest" mapstructure:"harvest"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
}

// StoreConfig locates the SQLite database
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// OracleConfig configures the LLM-backed classifier
type OracleConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     int     `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/sec
	AuditLog    string  `yaml:"audit_log,omitempty" mapstructure:"audit_log"`

	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// StagesConfig holds the generic stage knobs plus per-stage overrides
type StagesConfig struct {
	BatchSize         int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts       int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	ViolationAttempts int           `yaml:"violation_attempts" mapstructure:"violation_attempts"`
	Backoff           time.Duration `yaml:"backoff" mapstructure:"backoff"`
	StrictDomainMatch bool          `yaml:"strict_domain_match" mapstructure:"strict_domain_match"`
	GroupByRegulation bool          `yaml:"group_by_regulation" mapstructure:"group_by_regulation"`

	// Instructions overrides the built-in prompt of a stage, keyed by stage name
	Instructions map[string]string `yaml:"instructions,omitempty" mapstructure:"instructions"`
}

// RegulationsConfig configures the regulatory excerpt corpus
type RegulationsConfig struct {
	ExcerptsPath string            `yaml:"excerpts_path" mapstructure:"excerpts_path"`
	Aliases      map[string]string `yaml:"aliases,omitempty" mapstructure:"aliases"`
	Include      []string          `yaml:"include,omitempty" mapstructure:"include"`
}

// HarvestConfig configures the literature search clients
type HarvestConfig struct {
	Mailto        string                     `yaml:"mailto" mapstructure:"mailto"`
	UserAgent     string                     `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout       int                        `yaml:"timeout" mapstructure:"timeout"` // seconds
	RateLimit     float64                    `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxRetries    int                        `yaml:"max_retries" mapstructure:"max_retries"`
	RespectRobots bool                       `yaml:"respect_robots" mapstructure:"respect_robots"`
	Industries    map[string]IndustryQueries `yaml:"industries" mapstructure:"industries"`
}

// IndustryQueries are the search queries used to retrieve one industry's records
type IndustryQueries struct {
	CrossrefQueries []string `yaml:"crossref_queries" mapstructure:"crossref_queries"`
	OpenAlexQueries []string `yaml:"openalex_queries" mapstructure:"openalex_queries"`
	MaxRecords      int      `yaml:"max_records" mapstructure:"max_records"`
}

// CacheConfig configures the oracle verdict cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// OutputConfig configures exports
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"` // json, csv
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Path: "dtprivacy.db",
		},
		Oracle: OracleConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     60,
			MaxTokens:   800,
			Temperature: 0,
			Concurrency: 4,
			RateLimit:   2,
		},
		Stages: StagesConfig{
			BatchSize:         1,
			MaxAttempts:       3,
			ViolationAttempts: 2,
			Backoff:           2 * time.Second,
		},
		Regulations: RegulationsConfig{
			ExcerptsPath: "excerpts.yaml",
			Aliases:      DefaultRegulationAliases(),
			Include:      DefaultRegulations(),
		},
		Harvest: HarvestConfig{
			UserAgent:     "dtprivacy/0.1",
			Timeout:       30,
			RateLimit:     5,
			MaxRetries:    5,
			RespectRobots: true,
			Industries:    map[string]IndustryQueries{},
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".dtprivacy-cache",
			TTL:     30 * 24 * time.Hour,
		},
		Output: OutputConfig{
			Dir:    "out",
			Format: "json",
		},
	}
}

// DefaultRegulations is the include-list of regulations considered by default
func DefaultRegulations() []string {
	return []string{
		"GDPR", "ePrivacy Directive", "NIS2", "PSD2", "EU eHealth Network",
		"CCPA", "CPRA", "HIPAA", "HITECH", "GLBA", "COPPA", "FERPA", "ECPA",
	}
}

// DefaultRegulationAliases maps spellings found in excerpt corpora to canonical regulation names
func DefaultRegulationAliases() map[string]string {
	return map[string]string{
		"General Data Protection Regulation (2017)":           "GDPR",
		"General Data Protection Regulation":                  "GDPR",
		"Healthcare_HIPAA_§164.514":                           "HIPAA",
		"Health Insurance Portability and Accountability Act": "HIPAA",
		"California Consumer Privacy Act":                     "CCPA",
		"California Privacy Rights Act":                       "CPRA",
		"Gramm-Leach-Bliley Act":                              "GLBA",
		"Children's Online Privacy Protection Act":            "COPPA",
		"Family Educational Rights and Privacy Act":           "FERPA",
		"Electronic Communications Privacy Act":               "ECPA",
		"Payment Services Directive 2":                        "PSD2",
		"ePrivacy":                                            "ePrivacy Directive",
	}
}
