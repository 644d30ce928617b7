// Package config defines the shape of the engine's environment/config inputs.
// Loading them from a file, flags, or environment variables is somebody else's
// job (a CLI, a TUI, a test harness); this package only names the fields the
// turn engine actually reads and what it assumes when a field is left zero.
package config

import (
	"fmt"

	"github.com/turnstile/turnstile/internal/aggregator"
	"github.com/turnstile/turnstile/internal/llmmodel"
	"github.com/turnstile/turnstile/internal/noninteractive"
	"github.com/turnstile/turnstile/internal/sandbox"
)

// Config enumerates every engine-level input a caller can set before starting a
// turn. All fields are optional; Default returns the zero-value-safe baseline
// and DefaultedCopy fills in any field cfg left unset.
type Config struct {
	ApprovalMode noninteractive.ApprovalMode `json:"approvalmode"`
	SandboxMode  sandbox.Policy              `json:"sandboxmode"`
	StreamMode   aggregator.Mode             `json:"streammode"`

	Model      llmmodel.ModelID `json:"model"`
	ProviderID string           `json:"providerid,omitempty"`

	ReasoningEffort  string `json:"reasoningeffort,omitempty"`
	ReasoningSummary string `json:"reasoningsummary,omitempty"`
	Verbosity        string `json:"verbosity,omitempty"`

	RequestMaxRetries   int `json:"requestmaxretries"`
	StreamMaxRetries    int `json:"streammaxretries"`
	StreamIdleTimeoutMS int `json:"streamidletimeoutms"`
	RequestTimeoutMS    int `json:"requesttimeoutms"`
}

// Default returns the baseline Config the engine uses when a caller supplies
// none of its own: suggest-mode approval, workspace-scoped sandboxing, raw
// event streaming, and the package-default model.
func Default() Config {
	return Config{
		ApprovalMode: noninteractive.ApprovalModeSuggest,
		SandboxMode:  sandbox.PolicyWorkspaceOnly,
		StreamMode:   aggregator.Auto,

		Model: llmmodel.DefaultModel,

		RequestMaxRetries:   3,
		StreamMaxRetries:    3,
		StreamIdleTimeoutMS: 30_000,
		RequestTimeoutMS:    120_000,
	}
}

// DefaultedCopy returns a copy of cfg with every zero-valued field except
// StreamMode replaced by Default's value for that field. It never mutates cfg.
func DefaultedCopy(cfg Config) Config {
	d := Default()

	if cfg.ApprovalMode == "" {
		cfg.ApprovalMode = d.ApprovalMode
	}
	if cfg.SandboxMode == 0 {
		cfg.SandboxMode = d.SandboxMode
	}
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.RequestMaxRetries == 0 {
		cfg.RequestMaxRetries = d.RequestMaxRetries
	}
	if cfg.StreamMaxRetries == 0 {
		cfg.StreamMaxRetries = d.StreamMaxRetries
	}
	if cfg.StreamIdleTimeoutMS == 0 {
		cfg.StreamIdleTimeoutMS = d.StreamIdleTimeoutMS
	}
	if cfg.RequestTimeoutMS == 0 {
		cfg.RequestTimeoutMS = d.RequestTimeoutMS
	}
	// StreamMode's zero value (Raw) is a legitimate explicit choice, not "unset", so
	// it's intentionally left out of the defaulting above.

	return cfg
}

// Validate reports the first structural problem found in cfg, or nil if cfg is
// usable as-is. It does not reach out to any provider or the filesystem.
func Validate(cfg Config) error {
	switch cfg.ApprovalMode {
	case noninteractive.ApprovalModeSuggest, noninteractive.ApprovalModeAutoEdit, noninteractive.ApprovalModeFullAuto, noninteractive.ApprovalModePlan:
	default:
		return fmt.Errorf("config: invalid approval mode %q", cfg.ApprovalMode)
	}

	if cfg.Model == "" {
		return fmt.Errorf("config: model is required")
	}

	if cfg.RequestMaxRetries < 0 {
		return fmt.Errorf("config: requestmaxretries must be >= 0 (got %d)", cfg.RequestMaxRetries)
	}
	if cfg.StreamMaxRetries < 0 {
		return fmt.Errorf("config: streammaxretries must be >= 0 (got %d)", cfg.StreamMaxRetries)
	}
	if cfg.StreamIdleTimeoutMS < 0 {
		return fmt.Errorf("config: streamidletimeoutms must be >= 0 (got %d)", cfg.StreamIdleTimeoutMS)
	}
	if cfg.RequestTimeoutMS < 0 {
		return fmt.Errorf("config: requesttimeoutms must be >= 0 (got %d)", cfg.RequestTimeoutMS)
	}

	return nil
}
