// Command zace drives one autonomous coding task through the run loop
// scheduler (spec.md §4.7), wiring the concrete collaborators built across
// internal/ into a single runloop.Deps and calling runloop.RunAgentLoop.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zace-dev/zace/internal/approval"
	"github.com/zace-dev/zace/internal/approvalengine"
	"github.com/zace-dev/zace/internal/compactor"
	"github.com/zace-dev/zace/internal/config"
	"github.com/zace-dev/zace/internal/docpreload"
	"github.com/zace-dev/zace/internal/gateapprover"
	"github.com/zace-dev/zace/internal/gatediscovery"
	"github.com/zace-dev/zace/internal/journal"
	"github.com/zace-dev/zace/internal/llm"
	"github.com/zace-dev/zace/internal/llm/openai"
	"github.com/zace-dev/zace/internal/lspprober"
	"github.com/zace-dev/zace/internal/mcp"
	"github.com/zace-dev/zace/internal/memory"
	"github.com/zace-dev/zace/internal/plannerclient"
	"github.com/zace-dev/zace/internal/prompt"
	"github.com/zace-dev/zace/internal/retry"
	"github.com/zace-dev/zace/internal/retryanalyzer"
	"github.com/zace-dev/zace/internal/runloop"
	"github.com/zace-dev/zace/internal/scriptcatalog"
	"github.com/zace-dev/zace/internal/session"
	"github.com/zace-dev/zace/internal/tool"
	"github.com/zace-dev/zace/internal/tool/builtin"
	"github.com/zace-dev/zace/internal/toolexec"
	"github.com/zace-dev/zace/internal/zaplogger"
)

const (
	cliName    = "zace"
	cliVersion = "0.1.0"
)

func main() {
	config.LoadEnv()

	rootCmd := &cobra.Command{
		Use:   cliName + " <task>",
		Short: "zace — autonomous coding agent run loop",
		Long:  "zace drives a coding task through a bounded plan/execute/analyze loop with approval, completion-gate, and LSP-bootstrap guardrails.",
		Args:  cobra.ArbitraryArgs,
		RunE:  runOneShot,
	}
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "working directory for the run")
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a YAML options file")
	rootCmd.PersistentFlags().Bool("verbose", false, "log every scheduler event at debug level")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "chat",
		Short: "run an interactive multi-turn chat session over the same workspace",
		RunE:  runChat,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runtime bundles every collaborator shared across one-shot and chat mode,
// so both entry points assemble runloop.Deps identically.
type runtime struct {
	log      *zap.Logger
	opts     config.Options
	chat     llm.ChatClient
	prompts  *prompt.PromptLoader
	registry *tool.Registry
	deps     runloop.Deps
	workDir  string
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	workDir, _ := cmd.Flags().GetString("workspace")
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := "info"
	if verbose {
		level = "debug"
	}
	log, err := zaplogger.New(zaplogger.Config{Level: level, Format: "console", OutputPath: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	opts, err := config.LoadOptions(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	chatClient, err := openai.NewClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	runtimeDir := filepath.Join(workDir, ".zace", "runtime")
	sessionsDir := filepath.Join(workDir, ".zace", "sessions")
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}

	prompts := prompt.NewPromptLoader("", filepath.Join(workDir, ".zace", "rules.md"), filepath.Join(workDir, "soul.md"))

	registry := buildToolRegistry(workDir, sessionsDir, log)

	mcpConfigPath := filepath.Join(workDir, ".zace", "mcp.json")
	mcpMgr := mcp.NewManager(mcpConfigPath)
	mcpMgr.SetPromptLoader(prompts)
	if n, errs := mcpMgr.ConnectAll(context.Background()); n > 0 || len(errs) > 0 {
		log.Info("connected mcp servers", zap.Int("count", n), zap.Int("errors", len(errs)))
	}
	if err := mcpMgr.RegisterTools(context.Background(), registry); err != nil {
		log.Warn("mcp tool registration failed", zap.Error(err))
	}

	// Patch the planner prompt's runtime-environment placeholder with the Node.js
	// probe result, if any configured server needed one. A node/npx/tsx-launched
	// MCP server the planner can't see failing is worse than one it's warned about.
	if info := mcpMgr.NodeRuntimeInfo(); info != nil {
		prompts.PatchFile("planner_system.md", "{{RUNTIME_ENV}}", info.StatusString())
	} else {
		prompts.PatchFile("planner_system.md", "{{RUNTIME_ENV}}", "无需 Node.js 运行时的 MCP server")
	}

	rulesPath := filepath.Join(workDir, opts.ApprovalRulesPath)
	ruleStore, err := approval.OpenRuleStore(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("approval rule store: %w", err)
	}
	pendingStore := approval.OpenPendingStore(filepath.Join(runtimeDir, "pending_actions.json"))

	runID := uuid.NewString()
	engine := &approvalengine.Engine{
		Rules:   ruleStore,
		Pending: pendingStore,
		Safety: &approvalengine.LLMSafetyClassifier{
			Chat: chatClient, SystemPrompt: prompts.Load("safety_classifier.md"),
		},
		Intent: &approvalengine.LLMIntentClassifier{
			Chat: chatClient, SystemPrompt: prompts.Load("approval_intent.md"),
		},
		Policy:        opts.ApprovalPolicy(),
		WorkspaceRoot: workDir,
		RunID:         runID,
	}

	executor := toolexec.NewExecutor(registry)
	scripts, err := scriptcatalog.OpenFileRegistry(filepath.Join(runtimeDir, "scripts.tsv"))
	if err != nil {
		return nil, fmt.Errorf("script catalog: %w", err)
	}

	deps := runloop.Deps{
		Planner:         plannerclient.New(chatClient),
		Executor:        executor,
		Approval:        engine,
		Compactor:       compactor.New(chatClient),
		RetryAnalyzer:   retryanalyzer.New(chatClient),
		RetryClassifier: retry.HeuristicClassifier{},
		ScriptCatalog:   scripts,
		GateDiscoverer:  gatediscovery.New(),
		GateApprover:    gateapprover.New(engine, runID),
		Prober:          lspprober.New(filepath.Join(runtimeDir, "lsp", "servers.json")),
		Observer:        zaplogger.NewObserver(log),
	}

	return &runtime{log: log, opts: opts, chat: chatClient, prompts: prompts, registry: registry, deps: deps, workDir: workDir}, nil
}

// buildToolRegistry registers the reference tool surface named in
// SPEC_FULL.md's DOMAIN STACK (§3): built-in shell/file tools, the time
// tool, the two session-message tools, and the mcp_server_add/remove/list
// management tools, with MCP servers' own tools registered separately by
// mcp.Manager.RegisterTools onto the same registry.
func buildToolRegistry(workDir, sessionsDir string, log *zap.Logger) *tool.Registry {
	registry := tool.NewRegistry()

	registry.Register(builtin.NewFileReadTool(workDir))
	registry.Register(builtin.NewFileWriteTool(workDir))
	registry.Register(builtin.NewFileListTool(workDir))
	registry.Register(builtin.NewFileFindTool(workDir))
	registry.Register(builtin.NewFileMoveTool(workDir))
	registry.Register(builtin.NewFileDeleteTool(workDir))
	registry.Register(builtin.NewFilePatchTool(workDir))
	registry.Register(builtin.NewShellTool(workDir, true))
	registry.Register(builtin.NewTimeTool())
	registry.Register(builtin.NewSearchSessionMessagesTool(sessionsDir))
	registry.Register(builtin.NewWriteSessionMessageTool(sessionsDir))

	mcpConfigPath := filepath.Join(workDir, ".zace", "mcp.json")
	registry.Register(builtin.NewMCPServerAddTool(mcpConfigPath))
	registry.Register(builtin.NewMCPServerRemoveTool(mcpConfigPath))
	registry.Register(builtin.NewMCPServerListTool(mcpConfigPath))

	if err := registry.InitAll(context.Background()); err != nil {
		log.Warn("tool init reported an error", zap.Error(err))
	}
	return registry
}

// buildSystemPrompt assembles the layered system prompt (soul → user rules →
// planner protocol → behaviour rules), mirroring the teacher's L1/L2/L3
// composition order in internal/agent/prompt_builder.go.
func buildSystemPrompt(loader *prompt.PromptLoader, toolsPrompt string) string {
	var sb strings.Builder
	if persona := loader.LoadSoul(); persona != "" {
		sb.WriteString(persona)
		sb.WriteString("\n\n")
	}
	if rules := loader.LoadUserRules(); rules != "" {
		sb.WriteString("## 用户自定义规则\n")
		sb.WriteString(rules)
		sb.WriteString("\n\n")
	}
	sb.WriteString(loader.Load("planner_system.md"))
	if toolsPrompt != "" {
		sb.WriteString("\n\n")
		sb.WriteString(toolsPrompt)
	}
	if common := loader.Load("decide_common.md"); common != "" {
		sb.WriteString("\n\n")
		sb.WriteString(common)
	}
	if style := loader.Load("answer_style.md"); style != "" {
		sb.WriteString("\n\n")
		sb.WriteString(style)
	}
	return sb.String()
}

// preloadDocs injects workspace documentation as an early user message, per
// the docContextMode knob (spec.md §6): off skips this entirely, targeted
// caps the file count at 3, broad allows the full configured file count.
// Both modes use the full configured character budget.
func preloadDocs(mem *memory.Memory, workDir string, opts config.Options) {
	if opts.DocContextMode == config.DocContextOff {
		return
	}
	maxFiles := opts.DocContextMaxFiles
	maxChars := opts.DocContextMaxChars
	if opts.DocContextMode == config.DocContextTargeted && maxFiles > 3 {
		maxFiles = 3
	}

	docs := docpreload.Discover(context.Background(), workDir, nil, 2)
	if len(docs) > maxFiles {
		docs = docs[:maxFiles]
	}
	if len(docs) == 0 {
		return
	}

	preloader := docpreload.New()
	content := preloader.BuildContext(docs, maxChars, maxChars/len(docs))
	if content == "" {
		return
	}
	mem.Append(memory.Message{Role: memory.RoleUser, Content: "## Workspace documentation\n" + content})
}

func runOneShot(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" {
		return fmt.Errorf("zace: a task description is required")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	sessionID := uuid.NewString()
	result := rt.runTask(context.Background(), task, sessionID)

	fmt.Println(result.Message)
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

// runTask runs one task to completion through the shared runtime, journaling
// every message to the session's on-disk log.
func (rt *runtime) runTask(ctx context.Context, task, sessionID string) runloop.AgentResult {
	sessionsDir := filepath.Join(rt.workDir, ".zace", "sessions")
	j, err := journal.Open(sessionsDir, sessionID)
	if err != nil {
		return runloop.AgentResult{FinalState: runloop.StateError, Message: fmt.Sprintf("journal: %v", err)}
	}

	mem := memory.New(journal.NewMemorySink(j))
	defer mem.FlushMessageSink()

	toolsPrompt := rt.registry.GenerateToolsPrompt()
	mem.Append(memory.Message{Role: memory.RoleSystem, Content: buildSystemPrompt(rt.prompts, toolsPrompt)})
	preloadDocs(mem, rt.workDir, rt.opts)
	mem.Append(memory.Message{Role: memory.RoleUser, Content: task})

	ac := runloop.NewAgentContext(task, rt.workDir, sessionID, uuid.NewString(), mem)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go awaitInterrupt(ctx, cancel, rt.log)

	return runloop.RunAgentLoop(ctx, ac, rt.opts.RunloopConfig(), rt.deps)
}

func awaitInterrupt(ctx context.Context, cancel context.CancelFunc, log *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case <-sig:
		log.Info("received shutdown signal, interrupting run")
		cancel()
	case <-ctx.Done():
	}
}

// runChat drives a REPL: each line of input is one task run through the same
// runtime, with session.Store recording turns so later runs can see a
// compact transcript of earlier ones (spec.md's run loop itself is
// single-task; chat mode layers multi-turn memory on top of it).
func runChat(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	store := session.NewStore(30*time.Minute, 20)
	defer store.Close()

	const chatSessionID = "chat"
	fmt.Println("zace chat — type a task, or /exit to quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" {
			return nil
		}

		turns, summary := store.GetSessionContext(chatSessionID)
		task := line
		if prefix := session.ToProblemPrefix(turns, rt.opts.ContextWindowTokens/4, summary); prefix != "" {
			task = prefix + "\n\n" + line
		}

		runID := uuid.NewString()
		result := rt.runTask(context.Background(), task, chatSessionID+"-"+runID)
		fmt.Println(result.Message)

		store.AppendTurn(chatSessionID, session.Turn{UserMsg: line, Assistant: result.Message})
	}
}
