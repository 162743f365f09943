// Package lspbootstrap implements the run loop's LSP bootstrap state machine
// (spec.md §4.4): a 5-state machine driven by `lspStatus` tool artifacts,
// with an external re-probe triggered when the runtime LSP config path is
// touched while changed files are still pending.
package lspbootstrap

import (
	"context"
	"strings"
)

// State is one of the 5 bootstrap states.
type State string

const (
	StateIdle     State = "idle"
	StateRequired State = "required"
	StateProbing  State = "probing"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// Signal is the per-step derivation from a ToolResult.artifacts.lspStatus.
type Signal string

const (
	SignalRequired Signal = "required"
	SignalFailed   Signal = "failed"
	SignalActive   Signal = "active"
	SignalNone     Signal = "none"
)

const (
	maxAttemptedCommands    = 5
	maxAttemptedCommandChar = 220
)

// DeriveSignal implements the lspStatus → Signal mapping. Everything not
// named here — including neutral statuses such as no_applicable_files,
// no_changed_files, disabled, no_changed_files — maps to SignalNone and
// leaves the state machine untouched.
func DeriveSignal(lspStatus string) Signal {
	switch lspStatus {
	case "no_active_server":
		return SignalRequired
	case "failed":
		return SignalFailed
	case "diagnostics", "no_errors":
		return SignalActive
	default:
		return SignalNone
	}
}

// Bootstrap is the run loop's LspBootstrapState entity (§3), plus the
// book-keeping needed to drive transitions and emit events.
type Bootstrap struct {
	State               State
	PendingChangedFiles map[string]struct{}
	LastFailureReason   string
	ProvisionAttempts   int
	AttemptedCommands   []string
}

// New returns a fresh bootstrap state machine in StateIdle.
func New() *Bootstrap {
	return &Bootstrap{State: StateIdle, PendingChangedFiles: map[string]struct{}{}}
}

// Event is a state-machine transition event emitted for the run's journal.
type Event struct {
	Name   string
	State  State
	Reason string
}

// Prober runs an external diagnostics probe over the given changed files,
// returning the resulting signal and an optional reason.
type Prober interface {
	ProbeFiles(ctx context.Context, files []string) (Signal, string, error)
}

// Advance folds one step's artifacts into the state machine and returns any
// events to journal. changedFiles are the non-config paths touched this
// step; configTouched reports whether the runtime LSP config path itself was
// written; commandPreview is the tool command that produced this signal,
// truncated and recorded on non-active transitions.
func (b *Bootstrap) Advance(ctx context.Context, prober Prober, signal Signal, reason string, changedFiles []string, configTouched bool, commandPreview string) []Event {
	for _, f := range changedFiles {
		b.PendingChangedFiles[f] = struct{}{}
	}

	if signal == SignalActive {
		return b.applyActive()
	}

	if configTouched && len(b.PendingChangedFiles) > 0 && (b.State == StateRequired || b.State == StateFailed) {
		return b.runProbe(ctx, prober, commandPreview)
	}

	if signal == SignalNone {
		return nil
	}

	// signal is required or failed.
	return b.applyRequiredOrFailed(signal, reason, commandPreview)
}

func (b *Bootstrap) applyActive() []Event {
	prevState, prevReason := b.State, b.LastFailureReason
	b.State = StateReady
	b.LastFailureReason = ""
	b.PendingChangedFiles = map[string]struct{}{}

	changed := prevState != b.State || prevReason != b.LastFailureReason
	if prevState != StateIdle && changed {
		return []Event{{Name: "lsp_bootstrap_cleared", State: b.State}}
	}
	return nil
}

func (b *Bootstrap) applyRequiredOrFailed(signal Signal, reason, commandPreview string) []Event {
	prevState, prevReason := b.State, b.LastFailureReason

	next := StateRequired
	if signal == SignalFailed {
		next = StateFailed
	}
	b.State = next
	if reason != "" {
		b.LastFailureReason = reason
	}
	b.recordAttempt(commandPreview)
	b.ProvisionAttempts++

	changed := prevState != b.State || prevReason != b.LastFailureReason
	if !changed {
		return nil
	}
	return []Event{{Name: "lsp_bootstrap_required", State: b.State, Reason: b.LastFailureReason}}
}

func (b *Bootstrap) runProbe(ctx context.Context, prober Prober, commandPreview string) []Event {
	events := []Event{{Name: "lsp_bootstrap_probe_started", State: StateProbing}}
	b.State = StateProbing

	files := make([]string, 0, len(b.PendingChangedFiles))
	for f := range b.PendingChangedFiles {
		files = append(files, f)
	}

	signal, reason, err := prober.ProbeFiles(ctx, files)
	if err != nil {
		signal = SignalFailed
		reason = err.Error()
	}

	if signal == SignalActive {
		b.State = StateReady
		b.LastFailureReason = ""
		b.PendingChangedFiles = map[string]struct{}{}
		events = append(events, Event{Name: "lsp_bootstrap_probe_succeeded", State: b.State})
		return events
	}

	next := StateRequired
	if signal == SignalFailed {
		next = StateFailed
	}
	b.State = next
	if reason != "" {
		b.LastFailureReason = reason
	}
	b.recordAttempt(commandPreview)
	b.ProvisionAttempts++
	events = append(events, Event{Name: "lsp_bootstrap_probe_failed", State: b.State, Reason: b.LastFailureReason})
	return events
}

func (b *Bootstrap) recordAttempt(commandPreview string) {
	if commandPreview == "" {
		return
	}
	if len(commandPreview) > maxAttemptedCommandChar {
		commandPreview = commandPreview[:maxAttemptedCommandChar]
	}
	b.AttemptedCommands = append(b.AttemptedCommands, commandPreview)
	if len(b.AttemptedCommands) > maxAttemptedCommands {
		b.AttemptedCommands = b.AttemptedCommands[len(b.AttemptedCommands)-maxAttemptedCommands:]
	}
}

// BlockPolicy carries the §6 LSP policy knobs that affect completion
// blocking.
type BlockPolicy struct {
	Enabled            bool
	BlockOnFailed      bool
	RequireLSP         bool
	AutoProvision      bool
	ProvisionMaxAttempts int
}

// BlocksCompletion implements §4.4's completion-blocking rule.
func (b *Bootstrap) BlocksCompletion(policy BlockPolicy) bool {
	if !policy.Enabled {
		return false
	}
	if b.State == StateRequired {
		return true
	}
	if b.State == StateFailed && policy.BlockOnFailed {
		return true
	}
	if policy.RequireLSP && b.State != StateReady && len(b.PendingChangedFiles) > 0 {
		return true
	}
	return false
}

// ShouldWaitForUser reports whether the bootstrap has exhausted its
// auto-provision budget and completion should bounce to waiting_for_user,
// along with a user-facing excerpt of recently attempted commands.
func (b *Bootstrap) ShouldWaitForUser(policy BlockPolicy) (bool, string) {
	if !b.BlocksCompletion(policy) {
		return false, ""
	}
	if !policy.AutoProvision || b.ProvisionAttempts >= policy.ProvisionMaxAttempts {
		return true, strings.Join(b.AttemptedCommands, "\n")
	}
	return false, ""
}
