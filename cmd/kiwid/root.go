package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/kiwid/pkg/bus"
	"github.com/dotsetgreg/kiwid/pkg/channels"
	"github.com/dotsetgreg/kiwid/pkg/config"
	"github.com/dotsetgreg/kiwid/pkg/history"
	"github.com/dotsetgreg/kiwid/pkg/logger"
	"github.com/dotsetgreg/kiwid/pkg/memory"
	"github.com/dotsetgreg/kiwid/pkg/provider"
	"github.com/dotsetgreg/kiwid/pkg/router"
	"github.com/dotsetgreg/kiwid/pkg/scheduler"
	"github.com/dotsetgreg/kiwid/pkg/task"
	"github.com/dotsetgreg/kiwid/pkg/tools"
)

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "kiwid",
		Short: "Long-running personal assistant with tasks, memory, and scheduled alarms",
		Long: strings.TrimSpace(`kiwid is a conversational assistant daemon.

It routes messages from chat transports through a per-user task loop,
keeps long-term memory and conversation history in sqlite, and wakes
itself up on scheduled alarms.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func validateRuntimeConfig(cfg *config.Config, requireDiscord bool) error {
	configPath := getConfigPath()
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return fmt.Errorf("provider.api_key is required in %s or KIWID_PROVIDER_API_KEY", configPath)
	}
	if requireDiscord && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("channels.discord.token is required in %s or KIWID_CHANNELS_DISCORD_TOKEN", configPath)
	}
	return nil
}

// runtime is the wired-up core shared by the daemon and the local chat
// session: store, bus, scheduler, and router.
type runtime struct {
	cfg       *config.Config
	store     *memory.SQLiteStore
	bus       *bus.MessageBus
	scheduler *scheduler.Scheduler
	router    *router.Router
}

func (r *runtime) Close() {
	r.bus.Close()
	if err := r.store.Close(); err != nil {
		logger.WarnCF("main", "Error closing store", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetJSON(cfg.Log.JSON)

	store, err := memory.Open(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	mem := memory.NewService(store, memory.NewEmbeddingScorer(),
		cfg.Memory.MaxRecallItems, cfg.Memory.CandidateLimit, cfg.DraftTTL())
	hist := history.NewManager(store, cfg.History.InitialRounds, cfg.History.GrowthIncrement, cfg.History.MaxRounds)
	machine := task.NewMachine(store, cfg.Tasks.MaxInterruptDepth)

	msgBus := bus.NewMessageBus()
	sched := scheduler.New(store, msgBus, time.Duration(cfg.Scheduler.PollIntervalMS)*time.Millisecond)

	completer, err := provider.NewChatCompletionsClient(cfg.GetAPIBase(), cfg.GetAPIKey(), cfg.Agent.Model, cfg.Provider.Proxy)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create completion client: %w", err)
	}

	rtr, err := router.New(msgBus, completer, buildRegistry(mem, machine, sched), machine, mem, hist, router.Options{
		AgentName:         cfg.Agent.Name,
		Model:             cfg.Agent.Model,
		MaxTokens:         cfg.Agent.MaxTokens,
		DedupeCacheSize:   cfg.Router.DedupeCacheSize,
		WorkerQueueDepth:  cfg.Router.WorkerQueueDepth,
		MaxToolIterations: cfg.Router.MaxToolIterations,
		MaxRetries:        cfg.Router.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff(),
		CompletionTimeout: cfg.CompletionTimeout(),
		ToolTimeout:       cfg.ToolTimeout(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		store:     store,
		bus:       msgBus,
		scheduler: sched,
		router:    rtr,
	}, nil
}

func buildRegistry(mem *memory.Service, machine *task.Machine, sched *scheduler.Scheduler) *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(tools.NewRememberTool(mem))
	registry.Register(tools.NewScheduleTool(sched))
	registry.Register(tools.NewCancelAlarmTool(sched))
	registry.Register(tools.NewInterruptTool(machine))
	registry.Register(tools.NewResumeTool(machine))
	registry.Register(tools.NewDraftUserMessageTool(mem))

	followups := tools.NewGroup("followups", "Note things to help the user with later and resolve them once handled")
	followups.AddTool(tools.NewNoteFollowupTool(mem))
	followups.AddTool(tools.NewResolveFollowupTool(mem))
	registry.RegisterGroup(followups)

	return registry
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.kiwid config and workspace",
		Example: "  kiwid onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := getConfigPath()

			if _, err := os.Stat(configPath); err == nil {
				fmt.Printf("Config already exists at %s\n", configPath)
				fmt.Print("Overwrite? (y/n): ")
				reader := bufio.NewReader(os.Stdin)
				response, readErr := reader.ReadString('\n')
				if readErr != nil {
					fmt.Println("Aborted.")
					return nil
				}
				response = strings.ToLower(strings.TrimSpace(response))
				if response != "y" && response != "yes" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			cfg := config.DefaultConfig()
			if err := config.SaveConfig(configPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(cfg.StorePath()), 0o755); err != nil {
				return fmt.Errorf("create workspace: %w", err)
			}

			fmt.Printf("%s is ready!\n", appName)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Add your API key to", configPath)
			fmt.Println("  2. Chat locally: kiwid chat")
			fmt.Println("  3. (Daemon mode) Add a Discord token and run: kiwid run")
			fmt.Println("  4. Check readiness: kiwid status")
			return nil
		},
	}
}

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the daemon: chat transports, router, and scheduler",
		Example: "  kiwid run --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if debug {
				cfg.Log.Level = "debug"
			}
			if err := validateRuntimeConfig(cfg, cfg.Channels.Discord.Enabled); err != nil {
				return err
			}

			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			channelManager, err := channels.NewManager(cfg, rt.bus)
			if err != nil {
				return fmt.Errorf("create channel manager: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt.scheduler.Start(ctx)
			go rt.router.Run(ctx)

			if err := channelManager.StartAll(ctx); err != nil {
				rt.scheduler.Stop()
				return fmt.Errorf("start channels: %w", err)
			}

			enabled := channelManager.EnabledChannels()
			if len(enabled) > 0 {
				fmt.Printf("✓ Channels enabled: %s\n", strings.Join(enabled, ", "))
			}
			fmt.Printf("✓ %s started (model %s)\n", appName, cfg.Agent.Model)
			fmt.Println("Press Ctrl+C to stop")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan

			fmt.Println("\nShutting down...")
			cancel()
			_ = channelManager.StopAll(context.Background())
			rt.scheduler.Stop()
			fmt.Printf("✓ %s stopped\n", appName)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

const (
	cliUserID = "cli-user"
	cliChatID = "direct"
)

func newChatCommand() *cobra.Command {
	var (
		message string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant locally (no transports)",
		Example: strings.Join([]string{
			"  kiwid chat",
			"  kiwid chat --message \"remind me to stretch in an hour\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if debug {
				cfg.Log.Level = "debug"
			}
			if err := validateRuntimeConfig(cfg, false); err != nil {
				return err
			}

			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt.scheduler.Start(ctx)
			defer rt.scheduler.Stop()
			go rt.router.Run(ctx)

			if strings.TrimSpace(message) != "" {
				rt.bus.PublishInbound(bus.NewInbound(cliUserID, "cli", cliChatID, message))
				drainReplies(ctx, rt.bus, cfg.CompletionTimeout())
				return nil
			}

			fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
			chatLoop(ctx, rt.bus, cfg.CompletionTimeout())
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot prompt to send")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func chatLoop(ctx context.Context, mb *bus.MessageBus, replyTimeout time.Duration) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".kiwid_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		mb.PublishInbound(bus.NewInbound(cliUserID, "cli", cliChatID, input))
		drainReplies(ctx, mb, replyTimeout)
	}
}

// drainReplies prints outbound messages until the queue goes quiet. A
// turn may produce several messages (tool output, drafts, the final
// answer), so after the first reply we keep draining with a short quiet
// window instead of stopping at one.
func drainReplies(ctx context.Context, mb *bus.MessageBus, firstWait time.Duration) {
	wait := firstWait
	for {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		msg, ok := mb.SubscribeOutbound(waitCtx)
		cancel()
		if !ok {
			return
		}
		printReply(msg)
		wait = time.Second
	}
}

func printReply(msg bus.OutboundMessage) {
	if msg.Kind == bus.KindSystem {
		fmt.Printf("\n%s [%s]\n\n", appName, msg.Content)
		return
	}
	fmt.Printf("\n%s %s\n\n", appName, msg.Content)
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  kiwid status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			configPath := getConfigPath()

			fmt.Printf("%s Status\n", appName)
			fmt.Printf("Version: %s\n\n", formatVersion())

			if _, err := os.Stat(configPath); err == nil {
				fmt.Println("Config:", configPath, "✓")
			} else {
				fmt.Println("Config:", configPath, "✗")
			}

			workspace := cfg.WorkspacePath()
			if _, err := os.Stat(workspace); err == nil {
				fmt.Println("Workspace:", workspace, "✓")
			} else {
				fmt.Println("Workspace:", workspace, "✗")
			}
			storePath := cfg.StorePath()
			if _, err := os.Stat(storePath); err == nil {
				fmt.Println("Store:", storePath, "✓")
			} else {
				fmt.Println("Store:", storePath, "not initialized")
			}

			status := func(ready bool) string {
				if ready {
					return "✓"
				}
				return "not set"
			}
			apiReady := strings.TrimSpace(cfg.Provider.APIKey) != ""
			discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""

			fmt.Printf("Model: %s\n", cfg.Agent.Model)
			fmt.Println("API key:", status(apiReady))
			fmt.Println("Discord token:", status(discordReady))
			fmt.Println("Chat ready:", status(apiReady))
			fmt.Println("Daemon ready:", status(apiReady && (!cfg.Channels.Discord.Enabled || discordReady)))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
