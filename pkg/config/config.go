// Package config loads, validates and serves the engine configuration:
// scenes, LLM providers, planning rules, chains, diagnosis and email
// settings. Live-editable families are held in copy-on-write registries.
package config

import (
	"time"

	"github.com/chatbi-ai/chatbi/pkg/llm"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// Config is the fully loaded and validated engine configuration.
type Config struct {
	Pool       PoolConfig       `yaml:"pool"`
	Analyze    AnalyzeConfig    `yaml:"analyze"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Memory     MemoryConfig     `yaml:"memory"`
	Store      StoreConfig      `yaml:"store"`
	Redis      *RedisConfig     `yaml:"redis,omitempty"`

	Scenes       map[string]SceneConfig      `yaml:"scenes"`
	LLMProviders map[string]llm.OpenAIConfig `yaml:"llm_providers" validate:"min=1"`
	DefaultLLM   string                      `yaml:"default_llm"`
	Profiles     map[string]AgentProfile     `yaml:"agent_profiles"`

	// Live-editable families, built from the YAML at load time.
	Chains    *ChainRegistry     `yaml:"-"`
	PlanRules *PlanRuleRegistry  `yaml:"-"`
	Diagnosis *DiagnosisRegistry `yaml:"-"`
	Email     *EmailRegistry     `yaml:"-"`
}

// PoolConfig carries the connection pool knobs (defaults in brackets).
type PoolConfig struct {
	MaxTotal         int `yaml:"max_total" validate:"min=1"`          // 50
	MaxPerDatasource int `yaml:"max_per_datasource" validate:"min=1"` // 10
	AcquireTimeoutMS int `yaml:"acquire_timeout_ms" validate:"min=1"` // 5000
	HealthIntervalMS int `yaml:"health_interval_ms" validate:"min=1"` // 30000
}

// AcquireTimeout returns the acquire deadline as a duration.
func (p PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(p.AcquireTimeoutMS) * time.Millisecond
}

// HealthInterval returns the probe interval as a duration.
func (p PoolConfig) HealthInterval() time.Duration {
	return time.Duration(p.HealthIntervalMS) * time.Millisecond
}

// AnalyzeConfig bounds the analysis pipeline.
type AnalyzeConfig struct {
	MaxCorrectionAttempts int `yaml:"max_correction_attempts" validate:"min=0"` // 3
	EndToEndTimeoutMS     int `yaml:"end_to_end_timeout_ms" validate:"min=1"`   // 120000
}

// EndToEndTimeout returns the per-request cap as a duration.
func (a AnalyzeConfig) EndToEndTimeout() time.Duration {
	return time.Duration(a.EndToEndTimeoutMS) * time.Millisecond
}

// MonitoringConfig drives the monitoring/diagnosis loop.
type MonitoringConfig struct {
	TickIntervalMS int `yaml:"tick_interval_ms" validate:"min=1"` // 60000
	SuppressionMS  int `yaml:"suppression_ms" validate:"min=1"`   // 900000
	NotifyRetries  int `yaml:"notify_retries" validate:"min=0"`   // 3
}

// TickInterval returns the loop period as a duration.
func (m MonitoringConfig) TickInterval() time.Duration {
	return time.Duration(m.TickIntervalMS) * time.Millisecond
}

// Suppression returns the alert dedupe window as a duration.
func (m MonitoringConfig) Suppression() time.Duration {
	return time.Duration(m.SuppressionMS) * time.Millisecond
}

// ExecutionConfig bounds the execution state machine.
type ExecutionConfig struct {
	MaxAttemptsPerTask int `yaml:"max_attempts_per_task" validate:"min=1"` // 3
	StepCap            int `yaml:"step_cap" validate:"min=1"`              // 30
}

// MemoryConfig caps the memory event ring.
type MemoryConfig struct {
	MaxEvents int `yaml:"max_events" validate:"min=1"` // 50000
}

// StoreConfig configures the internal Postgres store.
type StoreConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig selects the optional Redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// SceneConfig binds per-scene defaults for query execution and the LLM.
type SceneConfig struct {
	ReadOnly       bool   `yaml:"read_only"`
	QueryTimeoutMS int    `yaml:"query_timeout_ms" validate:"min=1"`
	MaxRows        int    `yaml:"max_rows" validate:"min=1"`
	LLMBinding     string `yaml:"llm_binding,omitempty"`
}

// QueryTimeout returns the scene's SQL timeout as a duration.
func (s SceneConfig) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutMS) * time.Millisecond
}

// AgentProfile masks optional tools per agent profile.
type AgentProfile struct {
	Description string             `yaml:"description,omitempty"`
	Features    models.FeatureMask `yaml:"features"`
}

// Scene returns the scene config, falling back to built-in defaults for
// unknown scenes.
func (c *Config) Scene(name models.Scene) SceneConfig {
	if s, ok := c.Scenes[string(name)]; ok {
		return s
	}
	return SceneConfig{ReadOnly: true, QueryTimeoutMS: 30000, MaxRows: 1000}
}

// Profile returns the named agent profile; missing ids get a permissive
// default with only the SQL tool enabled.
func (c *Config) Profile(id string) AgentProfile {
	if p, ok := c.Profiles[id]; ok {
		return p
	}
	return AgentProfile{Features: models.FeatureMask{SQLTool: true}}
}
