package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
	"github.com/marmos91/dittomft/internal/telemetry"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/tasks"
)

// Validate checks struct tags first, then the rules tags cannot express:
// the selected store, digest names, rule modes, task types, S3 settings and
// duplicates.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if err := validateDatabase(cfg); err != nil {
		return err
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if err := validateProfiling(&cfg.Telemetry.Profiling); err != nil {
		return err
	}
	if err := validateTransfer(&cfg.Transfer); err != nil {
		return err
	}
	if err := validatePartners(cfg.Partners); err != nil {
		return err
	}
	if err := validateS3(cfg); err != nil {
		return err
	}
	return validateRules(cfg.Rules, cfg.S3.Enabled)
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed on '%s=%s' (value %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed on '%s'", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func validateDatabase(cfg *Config) error {
	if cfg.Database.Type == DatabaseTypeBadger {
		if !cfg.Badger.InMemory && cfg.Badger.Path == "" {
			return fmt.Errorf("badger.path is required")
		}
		return nil
	}
	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

func validateProfiling(cfg *ProfilingConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("telemetry.profiling.endpoint is required when profiling is enabled")
	}
	known := telemetry.ProfileTypeNames()
	for _, name := range cfg.ProfileTypes {
		if !slices.Contains(known, name) {
			return fmt.Errorf("telemetry.profiling.profile_types: unknown type %q (valid: %s)",
				name, strings.Join(known, ", "))
		}
	}
	return nil
}

func validateTransfer(cfg *TransferConfig) error {
	if _, err := digest.Parse(cfg.Digest); err != nil {
		return fmt.Errorf("transfer.digest: %w", err)
	}
	if cfg.BlockSize < packet.MinBlockSize {
		return fmt.Errorf("transfer.block_size must be at least %d bytes", packet.MinBlockSize)
	}
	if cfg.MaxBlockSize < cfg.BlockSize {
		return fmt.Errorf("transfer.max_block_size (%d) is smaller than transfer.block_size (%d)",
			cfg.MaxBlockSize, cfg.BlockSize)
	}
	return nil
}

func validatePartners(partners []PartnerConfig) error {
	seen := make(map[string]struct{}, len(partners))
	for i := range partners {
		p := &partners[i]
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("partners: duplicate id %q", p.ID)
		}
		seen[p.ID] = struct{}{}

		if p.Digest != "" {
			if _, err := digest.Parse(p.Digest); err != nil {
				return fmt.Errorf("partner %q: %w", p.ID, err)
			}
		}
		if !p.Client && p.Address != "" && p.Port == 0 {
			return fmt.Errorf("partner %q: port is required with an address", p.ID)
		}
	}
	return nil
}

func validateS3(cfg *Config) error {
	if !cfg.S3.Enabled {
		return nil
	}
	if (cfg.S3.AccessKeyID == "") != (cfg.S3.SecretAccessKey == "") {
		return fmt.Errorf("s3: access_key_id and secret_access_key must be set together")
	}
	return nil
}

func validateRules(rules []RuleConfig, objects bool) error {
	seen := make(map[string]struct{}, len(rules))
	for i := range rules {
		r := &rules[i]
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("rules: duplicate name %q", r.Name)
		}
		seen[r.Name] = struct{}{}

		if packet.ParseMode(r.Mode) == packet.ModeUnknown {
			return fmt.Errorf("rule %q: unknown mode %q", r.Name, r.Mode)
		}
		stages := [][]string{
			taskTypes(r.RecvPreTasks), taskTypes(r.RecvPostTasks), taskTypes(r.RecvErrorTasks),
			taskTypes(r.SendPreTasks), taskTypes(r.SendPostTasks), taskTypes(r.SendErrorTasks),
		}
		for _, types := range stages {
			for _, t := range types {
				if !tasks.Known(t) {
					return fmt.Errorf("rule %q: unknown task type %q", r.Name, t)
				}
				if !objects && tasks.NeedsObjectStore(t) {
					return fmt.Errorf("rule %q: task %s requires s3.enabled", r.Name, t)
				}
			}
		}
	}
	return nil
}

func taskTypes(specs []transfer.TaskSpec) []string {
	types := make([]string, len(specs))
	for i, s := range specs {
		types[i] = s.Type
	}
	return types
}
