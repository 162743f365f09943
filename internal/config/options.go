package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zace-dev/zace/internal/approval"
	"github.com/zace-dev/zace/internal/gate"
	"github.com/zace-dev/zace/internal/lspbootstrap"
	"github.com/zace-dev/zace/internal/planner"
	"github.com/zace-dev/zace/internal/runloop"
)

// ExecutorAnalysisPolicy is the executorAnalysis knob (spec.md §6).
type ExecutorAnalysisPolicy string

const (
	ExecutorAnalysisAlways    ExecutorAnalysisPolicy = "always"
	ExecutorAnalysisOnFailure ExecutorAnalysisPolicy = "on_failure"
	ExecutorAnalysisNever     ExecutorAnalysisPolicy = "never"
)

// CompletionValidationMode is the completionValidationMode knob.
type CompletionValidationMode string

const (
	CompletionModeStrict  CompletionValidationMode = "strict"
	CompletionModeBalanced CompletionValidationMode = "balanced"
	CompletionModeLLMOnly CompletionValidationMode = "llm_only"
)

// DocContextMode is the docContextMode knob.
type DocContextMode string

const (
	DocContextOff      DocContextMode = "off"
	DocContextTargeted DocContextMode = "targeted"
	DocContextBroad    DocContextMode = "broad"
)

// Options is every recognized configuration knob from spec.md §6, loadable
// from a YAML options file (via yaml.v3) and overridable by ZACE_*
// environment variables (via viper). Both tags carry the same snake_case
// key so the file and the env layer agree on names.
type Options struct {
	MaxSteps int `yaml:"max_steps" mapstructure:"max_steps"`

	RequireRiskyConfirmation bool   `yaml:"require_risky_confirmation" mapstructure:"require_risky_confirmation"`
	RiskyConfirmationToken   string `yaml:"risky_confirmation_token" mapstructure:"risky_confirmation_token"`

	ApprovalMemoryEnabled bool   `yaml:"approval_memory_enabled" mapstructure:"approval_memory_enabled"`
	ApprovalRulesPath     string `yaml:"approval_rules_path" mapstructure:"approval_rules_path"`
	PendingActionMaxAgeMs int    `yaml:"pending_action_max_age_ms" mapstructure:"pending_action_max_age_ms"`

	CompletionValidationMode         CompletionValidationMode `yaml:"completion_validation_mode" mapstructure:"completion_validation_mode"`
	CompletionRequireDiscoveredGates bool                      `yaml:"completion_require_discovered_gates" mapstructure:"completion_require_discovered_gates"`
	CompletionRequireLsp             bool                      `yaml:"completion_require_lsp" mapstructure:"completion_require_lsp"`
	GateDisallowMasking              bool                      `yaml:"gate_disallow_masking" mapstructure:"gate_disallow_masking"`

	LspEnabled                bool   `yaml:"lsp_enabled" mapstructure:"lsp_enabled"`
	LspServerConfigPath       string `yaml:"lsp_server_config_path" mapstructure:"lsp_server_config_path"`
	LspAutoProvision          bool   `yaml:"lsp_auto_provision" mapstructure:"lsp_auto_provision"`
	LspBootstrapBlockOnFailed bool   `yaml:"lsp_bootstrap_block_on_failed" mapstructure:"lsp_bootstrap_block_on_failed"`
	LspProvisionMaxAttempts   int    `yaml:"lsp_provision_max_attempts" mapstructure:"lsp_provision_max_attempts"`
	LspWaitForDiagnosticsMs   int    `yaml:"lsp_wait_for_diagnostics_ms" mapstructure:"lsp_wait_for_diagnostics_ms"`
	LspMaxDiagnosticsPerFile  int    `yaml:"lsp_max_diagnostics_per_file" mapstructure:"lsp_max_diagnostics_per_file"`
	LspMaxFilesInOutput       int    `yaml:"lsp_max_files_in_output" mapstructure:"lsp_max_files_in_output"`

	CompactionEnabled        bool    `yaml:"compaction_enabled" mapstructure:"compaction_enabled"`
	CompactionTriggerRatio   float64 `yaml:"compaction_trigger_ratio" mapstructure:"compaction_trigger_ratio"`
	CompactionPreserveRecent int     `yaml:"compaction_preserve_recent_messages" mapstructure:"compaction_preserve_recent_messages"`
	ContextWindowTokens      int     `yaml:"context_window_tokens" mapstructure:"context_window_tokens"`

	DoomLoopThreshold         int `yaml:"doom_loop_threshold" mapstructure:"doom_loop_threshold"`
	StagnationWindow          int `yaml:"stagnation_window" mapstructure:"stagnation_window"`
	ReadonlyStagnationWindow  int `yaml:"readonly_stagnation_window" mapstructure:"readonly_stagnation_window"`
	WriteRegressionErrorSpike int `yaml:"write_regression_error_spike" mapstructure:"write_regression_error_spike"`

	TransientRetryMaxAttempts int                    `yaml:"transient_retry_max_attempts" mapstructure:"transient_retry_max_attempts"`
	TransientRetryMaxDelayMs  int                    `yaml:"transient_retry_max_delay_ms" mapstructure:"transient_retry_max_delay_ms"`
	ExecutorAnalysis          ExecutorAnalysisPolicy `yaml:"executor_analysis" mapstructure:"executor_analysis"`

	PlannerOutputMode              planner.OutputMode `yaml:"planner_output_mode" mapstructure:"planner_output_mode"`
	PlannerSchemaStrict            bool               `yaml:"planner_schema_strict" mapstructure:"planner_schema_strict"`
	PlannerParseMaxRepairs         int                `yaml:"planner_parse_max_repairs" mapstructure:"planner_parse_max_repairs"`
	PlannerParseRetryOnFailure     bool               `yaml:"planner_parse_retry_on_failure" mapstructure:"planner_parse_retry_on_failure"`
	PlannerMaxInvalidArtifactChars int                `yaml:"planner_max_invalid_artifact_chars" mapstructure:"planner_max_invalid_artifact_chars"`

	DocContextMode     DocContextMode `yaml:"doc_context_mode" mapstructure:"doc_context_mode"`
	DocContextMaxFiles int            `yaml:"doc_context_max_files" mapstructure:"doc_context_max_files"`
	DocContextMaxChars int            `yaml:"doc_context_max_chars" mapstructure:"doc_context_max_chars"`

	Stream bool `yaml:"stream" mapstructure:"stream"`
}

// envPrefix is the ZACE_* override namespace (spec.md §6's "small set of
// process-level knobs"); e.g. ZACE_MAX_STEPS overrides max_steps.
const envPrefix = "ZACE"

// DefaultOptions mirrors runloop.DefaultConfig and the sub-package defaults
// already baked into the core, so an absent options file still produces a
// fully workable configuration.
func DefaultOptions() Options {
	rl := runloop.DefaultConfig()
	return Options{
		MaxSteps: rl.MaxSteps,

		ApprovalMemoryEnabled: true,
		ApprovalRulesPath:     ".zace/runtime/approval_rules.json",
		PendingActionMaxAgeMs: 10 * 60 * 1000,

		CompletionValidationMode:         CompletionModeStrict,
		CompletionRequireDiscoveredGates: true,
		CompletionRequireLsp:             false,
		GateDisallowMasking:              true,

		LspEnabled:                true,
		LspAutoProvision:          true,
		LspBootstrapBlockOnFailed: false,
		LspProvisionMaxAttempts:   2,
		LspWaitForDiagnosticsMs:   5000,
		LspMaxDiagnosticsPerFile:  20,
		LspMaxFilesInOutput:       10,

		CompactionEnabled:        rl.CompactionEnabled,
		CompactionTriggerRatio:   rl.CompactionTriggerRatio,
		CompactionPreserveRecent: rl.CompactionPreserveRecent,
		ContextWindowTokens:      rl.ContextWindowTokens,

		DoomLoopThreshold:         rl.DoomLoopThreshold,
		StagnationWindow:          rl.StagnationWindow,
		ReadonlyStagnationWindow:  rl.ReadonlyStagnationWindow,
		WriteRegressionErrorSpike: rl.WriteRegressionErrorSpike,

		TransientRetryMaxAttempts: rl.TransientRetryMaxAttempts,
		TransientRetryMaxDelayMs:  rl.TransientRetryMaxDelayMs,
		ExecutorAnalysis:          ExecutorAnalysisOnFailure,

		PlannerOutputMode:              planner.OutputAuto,
		PlannerSchemaStrict:            true,
		PlannerParseMaxRepairs:         1,
		PlannerParseRetryOnFailure:     true,
		PlannerMaxInvalidArtifactChars: 4000,

		DocContextMode:     DocContextTargeted,
		DocContextMaxFiles: 5,
		DocContextMaxChars: 20000,

		Stream: false,
	}
}

// LoadOptions reads an optional YAML options file (silently falling back to
// defaults if absent, since the CLI is expected to run without one) layered
// onto DefaultOptions, then layers ZACE_* environment overrides on top via
// viper, mirroring None9527-NGOClaw's "defaults → file → env" precedence.
func LoadOptions(path string) (Options, error) {
	fileLayer := DefaultOptions()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Options{}, fmt.Errorf("config: read options file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &fileLayer); err != nil {
			return Options{}, fmt.Errorf("config: parse options file %s: %w", path, err)
		}
	}

	v := viper.New()
	setOptionDefaults(v, fileLayer)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("config: unmarshal options: %w", err)
	}
	return opts, nil
}

func setOptionDefaults(v *viper.Viper, defaults Options) {
	v.SetDefault("max_steps", defaults.MaxSteps)
	v.SetDefault("require_risky_confirmation", defaults.RequireRiskyConfirmation)
	v.SetDefault("risky_confirmation_token", defaults.RiskyConfirmationToken)
	v.SetDefault("approval_memory_enabled", defaults.ApprovalMemoryEnabled)
	v.SetDefault("approval_rules_path", defaults.ApprovalRulesPath)
	v.SetDefault("pending_action_max_age_ms", defaults.PendingActionMaxAgeMs)
	v.SetDefault("completion_validation_mode", string(defaults.CompletionValidationMode))
	v.SetDefault("completion_require_discovered_gates", defaults.CompletionRequireDiscoveredGates)
	v.SetDefault("completion_require_lsp", defaults.CompletionRequireLsp)
	v.SetDefault("gate_disallow_masking", defaults.GateDisallowMasking)
	v.SetDefault("lsp_enabled", defaults.LspEnabled)
	v.SetDefault("lsp_server_config_path", defaults.LspServerConfigPath)
	v.SetDefault("lsp_auto_provision", defaults.LspAutoProvision)
	v.SetDefault("lsp_bootstrap_block_on_failed", defaults.LspBootstrapBlockOnFailed)
	v.SetDefault("lsp_provision_max_attempts", defaults.LspProvisionMaxAttempts)
	v.SetDefault("lsp_wait_for_diagnostics_ms", defaults.LspWaitForDiagnosticsMs)
	v.SetDefault("lsp_max_diagnostics_per_file", defaults.LspMaxDiagnosticsPerFile)
	v.SetDefault("lsp_max_files_in_output", defaults.LspMaxFilesInOutput)
	v.SetDefault("compaction_enabled", defaults.CompactionEnabled)
	v.SetDefault("compaction_trigger_ratio", defaults.CompactionTriggerRatio)
	v.SetDefault("compaction_preserve_recent_messages", defaults.CompactionPreserveRecent)
	v.SetDefault("context_window_tokens", defaults.ContextWindowTokens)
	v.SetDefault("doom_loop_threshold", defaults.DoomLoopThreshold)
	v.SetDefault("stagnation_window", defaults.StagnationWindow)
	v.SetDefault("readonly_stagnation_window", defaults.ReadonlyStagnationWindow)
	v.SetDefault("write_regression_error_spike", defaults.WriteRegressionErrorSpike)
	v.SetDefault("transient_retry_max_attempts", defaults.TransientRetryMaxAttempts)
	v.SetDefault("transient_retry_max_delay_ms", defaults.TransientRetryMaxDelayMs)
	v.SetDefault("executor_analysis", string(defaults.ExecutorAnalysis))
	v.SetDefault("planner_output_mode", string(defaults.PlannerOutputMode))
	v.SetDefault("planner_schema_strict", defaults.PlannerSchemaStrict)
	v.SetDefault("planner_parse_max_repairs", defaults.PlannerParseMaxRepairs)
	v.SetDefault("planner_parse_retry_on_failure", defaults.PlannerParseRetryOnFailure)
	v.SetDefault("planner_max_invalid_artifact_chars", defaults.PlannerMaxInvalidArtifactChars)
	v.SetDefault("doc_context_mode", string(defaults.DocContextMode))
	v.SetDefault("doc_context_max_files", defaults.DocContextMaxFiles)
	v.SetDefault("doc_context_max_chars", defaults.DocContextMaxChars)
	v.SetDefault("stream", defaults.Stream)
}

// RunloopConfig projects the knobs runloop.Config owns directly, including
// the sub-package option structs it embeds.
func (o Options) RunloopConfig() runloop.Config {
	return runloop.Config{
		MaxSteps:                      o.MaxSteps,
		DoomLoopThreshold:             o.DoomLoopThreshold,
		StagnationWindow:              o.StagnationWindow,
		ReadonlyStagnationWindow:      o.ReadonlyStagnationWindow,
		WriteRegressionErrorSpike:     o.WriteRegressionErrorSpike,
		TransientRetryMaxAttempts:     o.TransientRetryMaxAttempts,
		TransientRetryMaxDelayMs:      o.TransientRetryMaxDelayMs,
		CompactionEnabled:             o.CompactionEnabled,
		CompactionTriggerRatio:        o.CompactionTriggerRatio,
		CompactionPreserveRecent:      o.CompactionPreserveRecent,
		ContextWindowTokens:           o.ContextWindowTokens,
		RuntimeLspConfigPath:          o.LspServerConfigPath,
		GateOptions: gate.BuildOptions{
			StrictMode:             o.CompletionValidationMode == CompletionModeStrict,
			RequireDiscoveredGates: o.CompletionRequireDiscoveredGates,
		},
		LspPolicy: lspbootstrap.BlockPolicy{
			Enabled:              o.LspEnabled,
			BlockOnFailed:        o.LspBootstrapBlockOnFailed,
			RequireLSP:           o.CompletionRequireLsp,
			AutoProvision:        o.LspAutoProvision,
			ProvisionMaxAttempts: o.LspProvisionMaxAttempts,
		},
		PlannerOptions: planner.Options{
			Mode:                    o.PlannerOutputMode,
			MaxRepairs:              o.PlannerParseMaxRepairs,
			MaxInvalidArtifactChars: o.PlannerMaxInvalidArtifactChars,
			InvalidArtifactDir:      ".zace/runtime/planner",
		},
	}
}

// ApprovalPolicy projects the approval-classification knobs into
// approval.Policy. RuntimeScriptsDir/RuntimeLSPConfigPath are the exempted
// overwrite-redirect roots (spec.md §4.3) the approval classifier must not
// flag as destructive.
func (o Options) ApprovalPolicy() approval.Policy {
	return approval.Policy{
		RequireRiskyConfirmation: o.RequireRiskyConfirmation,
		RiskyConfirmationToken:   o.RiskyConfirmationToken,
		RuntimeScriptsDir:        ".zace/runtime/scripts",
		RuntimeLSPConfigPath:     o.LspServerConfigPath,
	}
}
