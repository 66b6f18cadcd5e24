package services

import (
	"context"

	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/errs"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// ConfigService exposes the live-editable configuration families:
// chains, plan rules, diagnosis attribution and email settings. All
// mutations go through the copy-on-write registries, so in-flight
// operations keep the snapshot they started with.
type ConfigService struct {
	cfg *config.Config
}

// NewConfigService creates a new ConfigService.
func NewConfigService(cfg *config.Config) *ConfigService {
	if cfg == nil {
		panic("NewConfigService: cfg must not be nil")
	}
	return &ConfigService{cfg: cfg}
}

// ListChains returns all chain templates.
func (s *ConfigService) ListChains(_ context.Context) []*config.Chain {
	return s.cfg.Chains.List()
}

// GetChain returns one chain template.
func (s *ConfigService) GetChain(_ context.Context, id string) (*config.Chain, error) {
	chain, err := s.cfg.Chains.Get(id)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, err, "chain %s not found", id)
	}
	return chain, nil
}

// PutChain validates and installs a chain template.
func (s *ConfigService) PutChain(_ context.Context, chain *config.Chain) error {
	if chain == nil || chain.ID == "" {
		return errs.New(errs.KindValidation, "chain id is required")
	}
	if err := s.cfg.Chains.Put(chain); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid chain %s", chain.ID)
	}
	return nil
}

// ListPlanRules returns the planning rules in declaration order.
func (s *ConfigService) ListPlanRules(_ context.Context) []*config.PlanRule {
	return s.cfg.PlanRules.List()
}

// PutPlanRule installs or replaces a planning rule. The chain it points
// at must exist.
func (s *ConfigService) PutPlanRule(_ context.Context, rule *config.PlanRule) error {
	if rule == nil {
		return errs.New(errs.KindValidation, "plan rule is required")
	}
	if _, err := s.cfg.Chains.Get(rule.ChainID); err != nil {
		return errs.New(errs.KindValidation, "plan rule %s references unknown chain %q", rule.ID, rule.ChainID)
	}
	if err := s.cfg.PlanRules.Put(rule); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid plan rule")
	}
	return nil
}

// GetDiagnosis returns the attribution config.
func (s *ConfigService) GetDiagnosis(_ context.Context) models.DiagnosisConfig {
	return s.cfg.Diagnosis.Get()
}

// PutDiagnosis swaps the attribution config.
func (s *ConfigService) PutDiagnosis(_ context.Context, cfg models.DiagnosisConfig) {
	s.cfg.Diagnosis.Put(cfg)
}

// GetEmail returns the email settings. The password never serialises.
func (s *ConfigService) GetEmail(_ context.Context) config.EmailConfig {
	return s.cfg.Email.Get()
}

// PutEmail swaps the email settings.
func (s *ConfigService) PutEmail(_ context.Context, cfg config.EmailConfig) error {
	if cfg.Enabled && (cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0) {
		return errs.New(errs.KindValidation, "enabled email config needs host, from and recipients")
	}
	s.cfg.Email.Put(cfg)
	return nil
}
