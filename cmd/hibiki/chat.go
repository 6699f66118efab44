package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/harunnryd/hibiki/internal/chat"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the knowledge-base agent from the terminal",
	Long:  `Opens an interactive session against a fresh conversation. Tool calls and answers stream as they happen. Type '/help' for commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}

		handler := NewSignalHandler(cmd.Context())
		handler.Start()
		defer handler.Stop()

		repl := newREPL(comps, cfg.Models.Default)
		return repl.Run(handler.Context())
	},
}

type repl struct {
	comps          *components
	modelName      string
	reader         *bufio.Reader
	conversationID string

	promptStyle lipgloss.Style
	toolStyle   lipgloss.Style
	errorStyle  lipgloss.Style
	faintStyle  lipgloss.Style
}

func newREPL(comps *components, modelName string) *repl {
	return &repl{
		comps:       comps,
		modelName:   modelName,
		reader:      bufio.NewReader(os.Stdin),
		promptStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
		toolStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		errorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		faintStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func (r *repl) Run(ctx context.Context) error {
	if err := r.newConversation(ctx); err != nil {
		return err
	}

	fmt.Println(r.promptStyle.Render("Hibiki") + r.faintStyle.Render(" — model "+r.modelName))
	fmt.Println(r.faintStyle.Render("Conversation " + r.conversationID + ". Type '/help' for commands, '/exit' to quit."))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Print(r.promptStyle.Render("> "))
		line, err := r.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := r.handleCommand(ctx, line)
			if err != nil {
				fmt.Println(r.errorStyle.Render(err.Error()))
			}
			if done {
				return nil
			}
			continue
		}

		r.streamTurn(ctx, line)
	}
}

func (r *repl) handleCommand(ctx context.Context, line string) (done bool, err error) {
	parts, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse command: %w", err)
	}
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/exit", "/quit":
		return true, nil
	case "/new":
		if err := r.newConversation(ctx); err != nil {
			return false, err
		}
		fmt.Println(r.faintStyle.Render("Started conversation " + r.conversationID))
	case "/history":
		return false, r.printHistory(ctx)
	case "/help":
		fmt.Println(r.faintStyle.Render("/new      start a fresh conversation\n/history  show persisted turns\n/exit     quit"))
	default:
		return false, fmt.Errorf("unknown command %q", parts[0])
	}
	return false, nil
}

func (r *repl) newConversation(ctx context.Context) error {
	title := "CLI session " + time.Now().Format("2006-01-02 15:04")
	conv, err := r.comps.gateway.CreateConversation(ctx, title)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	r.conversationID = conv.ID
	return nil
}

func (r *repl) printHistory(ctx context.Context) error {
	msgs, err := r.comps.gateway.ListMessages(ctx, r.conversationID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println(r.faintStyle.Render("No turns persisted yet."))
		return nil
	}
	for _, msg := range msgs {
		content := "(tool call)"
		if msg.Content != nil && *msg.Content != "" {
			content = *msg.Content
		}
		fmt.Println(r.faintStyle.Render(fmt.Sprintf("[%s] ", msg.Role)) + content)
	}
	return nil
}

func (r *repl) streamTurn(ctx context.Context, text string) {
	answered := false
	for event := range r.comps.orchestrator.Stream(ctx, r.conversationID, text) {
		switch event.Type {
		case chat.StreamContentDelta:
			fmt.Print(event.Content)
			answered = true
		case chat.StreamToolCallStarted:
			fmt.Println(r.toolStyle.Render(fmt.Sprintf("⚙ %s %s", event.ToolName, event.Arguments)))
		case chat.StreamToolCallFinished:
			fmt.Println(r.toolStyle.Render(fmt.Sprintf("✓ %s (%s)", event.ToolName, event.Status)))
		case chat.StreamError:
			fmt.Println(r.errorStyle.Render("error: " + event.Message))
		}
	}
	if answered {
		fmt.Println()
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
