package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/termnetdev/termnet/internal/agent"
	"github.com/termnetdev/termnet/internal/config"
)

func chatCmd() *cobra.Command {
	var showSteps bool
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent in the terminal",
		Long: `With a message argument, runs one exchange and exits.
Without arguments, starts an interactive session; exit with Ctrl-D or "/quit".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(strings.Join(args, " "), showSteps)
		},
	}
	cmd.Flags().BoolVar(&showSteps, "steps", false, "print plan/action/observation steps")
	return cmd
}

// cliSink streams the answer to stdout and optionally narrates steps.
type cliSink struct {
	showSteps bool
	streamed  bool
}

func (s *cliSink) AnswerChunk(text string) {
	s.streamed = true
	fmt.Print(text)
}

func (s *cliSink) Step(entry agent.StepEntry) {
	if !s.showSteps {
		return
	}
	if entry.ToolName != "" {
		fmt.Fprintf(os.Stderr, "  [%s] %s: %s\n", entry.Kind, entry.ToolName, truncateLine(entry.Content, 120))
		return
	}
	fmt.Fprintf(os.Stderr, "  [%s] %s\n", entry.Kind, truncateLine(entry.Content, 120))
}

func (s *cliSink) Warning(tool, command, reason string) {
	fmt.Fprintf(os.Stderr, "  warning (%s): %s\n", tool, reason)
}

func (s *cliSink) Done(reason agent.TerminationReason, finalAnswer string) {
	if s.streamed {
		fmt.Println()
	}
	if reason != agent.ReasonModelConcluded {
		fmt.Fprintf(os.Stderr, "  (run ended: %s)\n", reason)
	}
	s.streamed = false
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func runChat(message string, showSteps bool) error {
	cfg := loadConfig()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	gate, err := buildGate(cfg)
	if err != nil {
		return err
	}
	svcs, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svcs.close()

	registry, err := buildRegistry(cfg, builtinTools(svcs))
	if err != nil {
		return err
	}
	if err := registry.StartAll(ctx); err != nil {
		return err
	}
	defer registry.StopAll(context.Background())

	sink := &cliSink{showSteps: showSteps}
	newLoop := func() *agent.Loop {
		opts := []agent.Option{}
		if svcs.notify != nil {
			opts = append(opts, agent.WithNotifications(svcs.notify))
		}
		return agent.NewLoop(provider, registry, gate, sink, agent.Config{
			SessionKey:            config.DefaultSessionKey,
			Model:                 cfg.Provider.Model,
			MaxSteps:              cfg.Agent.MaxSteps,
			MaxMalformedRetries:   cfg.Agent.MaxMalformedRetries,
			MaxUnknownToolRetries: cfg.Agent.MaxUnknownToolRetries,
			MaxContextTokens:      cfg.Agent.ContextTokens,
			Options:               cfg.Provider.Options,
			GuardAction:           guardAction(cfg.Agent.GuardAction),
			Reflect:               cfg.Agent.Reflect,
		}, opts...)
	}

	// One-shot mode.
	if message != "" {
		_, err := newLoop().Run(ctx, message)
		return err
	}

	// Interactive mode.
	fmt.Println("TermNet interactive chat. Type a message, /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		if _, err := newLoop().Run(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
