// Package policy loads optional operator overrides for routing
// thresholds, submission retry tuning, and worker pool sizing from a
// YAML file. Absent file or absent fields keep the built-in defaults.
package policy

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/meridian-benefits/claimflow/internal/classify"
	"github.com/meridian-benefits/claimflow/internal/pipeline"
	"github.com/meridian-benefits/claimflow/internal/submit"
)

// Policy is the override file schema. Zero values mean "keep default".
type Policy struct {
	Routing struct {
		AutoSubmit    float64 `yaml:"auto_submit"`
		FlaggedSubmit float64 `yaml:"flagged_submit"`
	} `yaml:"routing"`

	Retry struct {
		MaxAttempts        int `yaml:"max_attempts"`
		BaseDelayMS        int `yaml:"base_delay_ms"`
		MaxDelayMS         int `yaml:"max_delay_ms"`
		AttemptTimeoutSecs int `yaml:"attempt_timeout_secs"`
	} `yaml:"retry"`

	Workers          int `yaml:"workers"`
	PollIntervalSecs int `yaml:"poll_interval_secs"`
}

// Load reads and validates a policy file. A missing path returns the
// zero Policy without error.
func Load(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Policy{}, nil
		}
		return nil, eris.Wrapf(err, "policy: read %s", path)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "policy: parse %s", path)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) validate() error {
	if p.Routing.AutoSubmit != 0 || p.Routing.FlaggedSubmit != 0 {
		if err := p.Bands().Validate(); err != nil {
			return err
		}
	}
	if p.Retry.MaxAttempts < 0 || p.Workers < 0 {
		return eris.New("policy: negative values not allowed")
	}
	return nil
}

// Bands returns the routing thresholds with defaults filled in.
func (p *Policy) Bands() classify.Bands {
	b := classify.DefaultBands()
	if p.Routing.AutoSubmit != 0 {
		b.AutoSubmit = p.Routing.AutoSubmit
	}
	if p.Routing.FlaggedSubmit != 0 {
		b.FlaggedSubmit = p.Routing.FlaggedSubmit
	}
	return b
}

// SubmitConfig returns the retry schedule with defaults filled in.
func (p *Policy) SubmitConfig() submit.Config {
	cfg := submit.DefaultConfig()
	if p.Retry.MaxAttempts > 0 {
		cfg.MaxAttempts = p.Retry.MaxAttempts
	}
	if p.Retry.BaseDelayMS > 0 {
		cfg.BaseDelay = time.Duration(p.Retry.BaseDelayMS) * time.Millisecond
	}
	if p.Retry.MaxDelayMS > 0 {
		cfg.MaxDelay = time.Duration(p.Retry.MaxDelayMS) * time.Millisecond
	}
	if p.Retry.AttemptTimeoutSecs > 0 {
		cfg.AttemptTimeout = time.Duration(p.Retry.AttemptTimeoutSecs) * time.Second
	}
	return cfg
}

// CoordinatorConfig returns the worker pool sizing with defaults filled in.
func (p *Policy) CoordinatorConfig() pipeline.CoordinatorConfig {
	cfg := pipeline.DefaultCoordinatorConfig()
	if p.Workers > 0 {
		cfg.Workers = p.Workers
	}
	if p.PollIntervalSecs > 0 {
		cfg.PollInterval = time.Duration(p.PollIntervalSecs) * time.Second
	}
	return cfg
}
