// Package main provides the CLI entry point for the agent core.
//
// agentcore wires the content gateway, sensitive-path policy, exclusion
// counters, context window tracking, apply-patch runtime, and hook
// dispatcher around a single agent.Runtime and drives one turn at a time
// from the terminal.
//
// # Basic usage
//
// Run a single prompt against a fresh session:
//
//	agentcore run --config agentcore.yaml "list the files in this repo"
//
// # Environment variables
//
//   - AGENTCORE_CONFIG: path to the configuration file (default: agentcore.yaml)
//   - AGENTCORE_APPROVAL_SIGNING_KEY: HS256 key for the apply-patch approval
//     cache, overriding apply_patch.approval_cache_signing_key in config.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/applypatch"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/contentgateway"
	"github.com/haasonsaas/nexus/internal/contextwindow"
	"github.com/haasonsaas/nexus/internal/exclusion"
	"github.com/haasonsaas/nexus/internal/hookdispatch"
	"github.com/haasonsaas/nexus/internal/hooks"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/sensitivepath"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/tools/files"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

var configPath string

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentcore",
		Short:        "Agent core - sandboxed, hook-driven coding agent runtime",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("AGENTCORE_CONFIG", "agentcore.yaml"), "path to the agent core config file")
	root.AddCommand(buildRunCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one prompt through the agent core and stream the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args)
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), prompt, model)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model identifier forwarded to the LLM provider")
	return cmd
}

// readPrompt takes the prompt from the positional argument, or reads it
// from stdin when omitted so the command composes with pipes.
func readPrompt(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given: pass one as an argument or pipe it on stdin")
	}
	return prompt, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// runOnce loads configuration, wires the turn engine's supporting
// subsystems, and drives a single turn to completion, printing model
// text deltas and tool activity to stdout/stderr as they arrive.
func runOnce(ctx context.Context, prompt, model string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slogLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	baseLogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))

	workspace := cfg.Workspace.Path
	if workspace == "" {
		workspace, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve workspace: %w", err)
		}
	}

	sensitive := sensitivepath.New(workspace, cfg.Exclusion)
	gateway := contentgateway.New(cfg.ContentGateway, obsLogger)
	gatewayCache := contentgateway.NewCache()
	exclusionLog := exclusion.NewLogger(cfg.ExclusionLog, obsLogger)
	defer exclusionLog.Flush()
	security := agent.NewSecurityPipeline(sensitive, gateway, gatewayCache, exclusionLog)

	ctxWindow := contextwindow.New(defaultModel(model, cfg), 0.85)

	approvalCache, err := openApprovalCache(cfg)
	if err != nil {
		return fmt.Errorf("apply-patch approval cache: %w", err)
	}
	if approvalCache != nil {
		defer approvalCache.Close()
	}
	hookRegistry := hooks.NewRegistry(baseLogger)
	toolHooks := hooks.NewToolHookManager(hookRegistry, baseLogger)

	var dispatcher *hookdispatch.Dispatcher
	if cfg.HookDispatch.Enabled && len(cfg.HookDispatch.Directories) > 0 {
		dispatcher, err = hookdispatch.New(hookdispatch.Options{
			PayloadDir:    cfg.HookDispatch.Directories[0],
			LogDir:        cfg.HookDispatch.Directories[0],
			MaxConcurrent: cfg.HookDispatch.MaxConcurrent,
			Timeout:       cfg.HookDispatch.Timeout,
			Logger:        baseLogger,
		})
		if err != nil {
			return fmt.Errorf("start hook dispatcher: %w", err)
		}
	}

	sessionStore := sessions.NewMemoryStore()
	branchStore := sessions.NewMemoryBranchStore()

	rt := agent.NewRuntimeWithOptions(unconfiguredProvider{}, sessionStore, agent.RuntimeOptions{
		MaxIterations:   20,
		ToolParallelism: 4,
		ToolTimeout:     2 * time.Minute,
		Logger:          baseLogger,
	})
	rt.SetBranchStore(branchStore)
	rt.SetToolHookManager(toolHooks)
	rt.SetContextWindow(ctxWindow)
	rt.SetSecurityPipeline(security)
	if dispatcher != nil {
		rt.SetLifecycleHooks(dispatcher)
	}
	if model != "" {
		rt.SetDefaultModel(model)
	}
	registerFileTools(rt, workspace, approvalCache)

	session := &models.Session{
		ID:        uuid.NewString(),
		Channel:   models.ChannelAPI,
		Key:       "cli",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   models.ChannelAPI,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   prompt,
		CreatedAt: time.Now(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := rt.ProcessStream(ctx, session, msg)
	if err != nil {
		return fmt.Errorf("process turn: %w", err)
	}
	for event := range events {
		printEvent(event)
	}
	return nil
}

func defaultModel(flagModel string, cfg *config.Config) string {
	if flagModel != "" {
		return flagModel
	}
	if cfg.LLM.DefaultProvider != "" {
		if provider, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; ok && provider.DefaultModel != "" {
			return provider.DefaultModel
		}
	}
	return "default"
}

func openApprovalCache(cfg *config.Config) (*applypatch.ApprovalCache, error) {
	if cfg.ApplyPatch.ApprovalCachePath == "" {
		return nil, nil
	}
	key := cfg.ApplyPatch.ApprovalCacheSigningKey
	if v := os.Getenv("AGENTCORE_APPROVAL_SIGNING_KEY"); v != "" {
		key = v
	}
	if key == "" {
		return nil, fmt.Errorf("apply_patch.approval_cache_signing_key must be set when approval_cache_path is configured")
	}
	return applypatch.NewApprovalCache(cfg.ApplyPatch.ApprovalCachePath, []byte(key))
}

// registerFileTools attaches the workspace-scoped read/write/edit/apply-patch
// tools so a run has something to exercise beyond plain text completion.
func registerFileTools(rt *agent.Runtime, workspace string, approvalCache *applypatch.ApprovalCache) {
	fcfg := files.Config{Workspace: workspace}
	rt.RegisterTool(files.NewReadTool(fcfg))
	rt.RegisterTool(files.NewWriteTool(fcfg))
	rt.RegisterTool(files.NewEditTool(fcfg))
	patchTool := files.NewApplyPatchTool(fcfg)
	if approvalCache != nil {
		patchTool.SetApprovalCache(approvalCache)
	}
	rt.RegisterTool(patchTool)
}

func printEvent(event models.AgentEvent) {
	switch event.Type {
	case models.AgentEventModelDelta:
		if event.Stream != nil {
			fmt.Print(event.Stream.Delta)
		}
	case models.AgentEventModelCompleted:
		fmt.Println()
	case models.AgentEventToolStarted:
		if event.Tool != nil {
			fmt.Fprintf(os.Stderr, "\n[tool] %s started\n", event.Tool.Name)
		}
	case models.AgentEventToolFinished:
		if event.Tool != nil {
			fmt.Fprintf(os.Stderr, "[tool] %s finished\n", event.Tool.Name)
		}
	case models.AgentEventRunError:
		if event.Error != nil {
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", event.Error.Message)
		}
	case models.AgentEventRunFinished:
		fmt.Fprintln(os.Stderr, "[done]")
	}
}

// unconfiguredProvider satisfies agent.LLMProvider without talking to any
// model backend. Wiring a real provider SDK is out of this module's scope
// (spec treats the HTTP/SSE client to the model as an external
// collaborator behind this same interface); see DESIGN.md.
type unconfiguredProvider struct{}

func (unconfiguredProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return nil, fmt.Errorf("no LLM provider configured: wire one behind agent.LLMProvider")
}

func (unconfiguredProvider) Name() string { return "unconfigured" }

func (unconfiguredProvider) Models() []agent.Model { return nil }

func (unconfiguredProvider) SupportsTools() bool { return true }
