package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chatbi-ai/chatbi/pkg/models"
)

// chatbiYAML mirrors the chatbi.yaml file structure. The registry-backed
// families (chains, plan rules, diagnosis, email) live in the same file
// but are built into registries at load time.
type chatbiYAML struct {
	Config    `yaml:",inline"`
	Chains    []*Chain                `yaml:"chains"`
	PlanRules []*PlanRule             `yaml:"plan_rules"`
	Diagnosis *models.DiagnosisConfig `yaml:"diagnosis"`
	Email     *EmailConfig            `yaml:"email"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load .env from configDir when present
//  2. Read chatbi.yaml, expand {{.VAR}} environment references
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Build copy-on-write registries (chains, plan rules, diagnosis, email)
//  6. Validate the result, including rule → chain cross-references
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"scenes", len(cfg.Scenes),
		"llm_providers", len(cfg.LLMProviders),
		"chains", len(cfg.Chains.List()),
		"plan_rules", len(cfg.PlanRules.List()))

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var file chatbiYAML
	if err := loadYAML(filepath.Join(configDir, "chatbi.yaml"), &file); err != nil {
		return nil, NewLoadError("chatbi.yaml", err)
	}

	// User values override built-in defaults field by field.
	cfg := Defaults()
	if err := mergo.Merge(cfg, &file.Config, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	chains := builtinChains()
	for _, c := range file.Chains {
		if err := c.Validate(); err != nil {
			return nil, NewLoadError("chatbi.yaml", err)
		}
		chains[c.ID] = c
	}
	cfg.Chains = NewChainRegistry(chains)

	rules := builtinPlanRules()
	if len(file.PlanRules) > 0 {
		rules = file.PlanRules
	}
	cfg.PlanRules = NewPlanRuleRegistry(rules)

	diagnosis := builtinDiagnosis()
	if file.Diagnosis != nil {
		diagnosis = *file.Diagnosis
	}
	cfg.Diagnosis = NewDiagnosisRegistry(diagnosis)

	email := EmailConfig{Port: 587}
	if file.Email != nil {
		email = *file.Email
	}
	cfg.Email = NewEmailRegistry(email)

	return cfg, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return err
	}

	if cfg.DefaultLLM != "" {
		if _, ok := cfg.LLMProviders[cfg.DefaultLLM]; !ok {
			return fmt.Errorf("%w: default_llm %q has no provider entry", ErrInvalidReference, cfg.DefaultLLM)
		}
	}
	for name, scene := range cfg.Scenes {
		if scene.LLMBinding == "" {
			continue
		}
		if _, ok := cfg.LLMProviders[scene.LLMBinding]; !ok {
			return fmt.Errorf("%w: scene %q binds unknown llm provider %q", ErrInvalidReference, name, scene.LLMBinding)
		}
	}

	// Every enabled plan rule must point at a registered chain.
	for _, rule := range cfg.PlanRules.List() {
		if !rule.Enabled {
			continue
		}
		if _, err := cfg.Chains.Get(rule.ChainID); err != nil {
			return fmt.Errorf("%w: plan rule %q references unknown chain %q", ErrInvalidReference, rule.ID, rule.ChainID)
		}
	}
	return nil
}
