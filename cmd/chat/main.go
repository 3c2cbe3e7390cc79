// File: cmd/chat/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyunix/go-localchat/internal/client"
	"github.com/iyunix/go-localchat/internal/services"
)

type cli struct {
	serverURL string
	tokenFile string
	logLevel  string

	api      *client.Client
	state    *client.ConversationState
	messages *client.KeyedLoader[uint, []client.Message]
	logger   *services.ProductionLogger
}

func main() {
	c := &cli{state: client.NewConversationState()}
	if err := c.rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "localchat", "csrf.json")
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "localchat-cli",
		Short:        "Command line client for the local chat server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.connect()
		},
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:8080", "server base URL")
	root.PersistentFlags().StringVar(&c.tokenFile, "token-file", defaultTokenFile(), "where to cache the CSRF token")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "WARN", "client log level")

	root.AddCommand(
		&cobra.Command{
			Use:   "projects",
			Short: "List projects",
			Args:  cobra.NoArgs,
			RunE:  c.listProjects,
		},
		&cobra.Command{
			Use:   "new-project NAME",
			Short: "Create a project",
			Args:  cobra.ExactArgs(1),
			RunE:  c.newProject,
		},
		&cobra.Command{
			Use:   "conversations PROJECT_ID",
			Short: "List the conversations of a project",
			Args:  cobra.ExactArgs(1),
			RunE:  c.listConversations,
		},
		&cobra.Command{
			Use:   "new-conversation PROJECT_ID [TITLE]",
			Short: "Start a conversation",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  c.newConversation,
		},
		&cobra.Command{
			Use:   "show CONVERSATION_ID",
			Short: "Show a conversation summary",
			Args:  cobra.ExactArgs(1),
			RunE:  c.show,
		},
		&cobra.Command{
			Use:   "history CONVERSATION_ID",
			Short: "Print the messages of a conversation",
			Args:  cobra.ExactArgs(1),
			RunE:  c.history,
		},
		&cobra.Command{
			Use:   "send CONVERSATION_ID MESSAGE...",
			Short: "Send a message and stream the reply",
			Args:  cobra.MinimumNArgs(2),
			RunE:  c.send,
		},
		&cobra.Command{
			Use:   "regenerate CONVERSATION_ID MESSAGE_ID",
			Short: "Regenerate an assistant reply",
			Args:  cobra.ExactArgs(2),
			RunE:  c.regenerate,
		},
		&cobra.Command{
			Use:       "react MESSAGE_ID thumbs_up|thumbs_down|none",
			Short:     "Rate an assistant reply",
			Args:      cobra.ExactArgs(2),
			ValidArgs: []string{"thumbs_up", "thumbs_down", "none"},
			RunE:      c.react,
		},
		&cobra.Command{
			Use:   "forget-token",
			Short: "Drop the cached CSRF token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c.api.Tokens().Invalidate()
				return nil
			},
		},
	)
	return root
}

func (c *cli) connect() error {
	logger, err := services.NewLogger("localchat-cli", "development", c.logLevel)
	if err != nil {
		return err
	}
	var store client.TokenStore
	if c.tokenFile != "" {
		store = client.NewFileTokenStore(c.tokenFile)
	}
	c.api, err = client.New(client.Options{
		BaseURL:    c.serverURL,
		TokenStore: store,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	c.logger = logger
	c.messages = client.NewKeyedLoader(func(ctx context.Context, conversationID uint) ([]client.Message, error) {
		messages, _, err := c.api.ListMessages(ctx, conversationID, 200, 0)
		return messages, err
	})
	c.state.Subscribe(func(v client.ConversationView) {
		logger.Debug("conversation updated",
			"conversation_id", v.Meta.ID,
			"message_count", v.Meta.MessageCount,
			"in_flight", v.InFlight())
	})
	return nil
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

func (c *cli) listProjects(cmd *cobra.Command, _ []string) error {
	projects, err := c.api.ListProjects(cmd.Context())
	if err != nil {
		return err
	}
	for _, p := range projects {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", p.ID, p.Name)
	}
	return nil
}

func (c *cli) newProject(cmd *cobra.Command, args []string) error {
	p, err := c.api.CreateProject(cmd.Context(), args[0], "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created project %d\n", p.ID)
	return nil
}

func (c *cli) listConversations(cmd *cobra.Command, args []string) error {
	projectID, err := parseID(args[0])
	if err != nil {
		return err
	}
	convs, err := c.api.ListConversations(cmd.Context(), projectID)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		c.state.ApplyConversation(conv)
		title := conv.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d messages\n", conv.ID, title, conv.MessageCount)
	}
	return nil
}

func (c *cli) newConversation(cmd *cobra.Command, args []string) error {
	projectID, err := parseID(args[0])
	if err != nil {
		return err
	}
	var title string
	if len(args) > 1 {
		title = args[1]
	}
	conv, err := c.api.CreateConversation(cmd.Context(), projectID, title)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created conversation %d\n", conv.ID)
	return nil
}

func (c *cli) history(cmd *cobra.Command, args []string) error {
	conversationID, err := parseID(args[0])
	if err != nil {
		return err
	}
	messages, err := c.messages.Load(cmd.Context(), conversationID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range messages {
		fmt.Fprintf(out, "[%d] %s (%s)\n%s\n\n", m.ID, strings.ToUpper(m.Role[:1])+m.Role[1:], m.Status, m.Content)
	}
	return nil
}

func (c *cli) show(cmd *cobra.Command, args []string) error {
	conversationID, err := parseID(args[0])
	if err != nil {
		return err
	}
	conv, err := c.api.GetConversation(cmd.Context(), conversationID)
	if err != nil {
		return err
	}
	c.state.ApplyConversation(*conv)
	view, _ := c.state.Get(conversationID)

	out := cmd.OutOrStdout()
	title := view.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(out, "%d\t%s\n", view.Meta.ID, title)
	fmt.Fprintf(out, "messages: %d\n", view.Meta.MessageCount)
	if view.Meta.LastMessageAt != nil {
		fmt.Fprintf(out, "last activity: %s\n", view.Meta.LastMessageAt.Local().Format(time.RFC1123))
	}
	return nil
}

func (c *cli) react(cmd *cobra.Command, args []string) error {
	messageID, err := parseID(args[0])
	if err != nil {
		return err
	}
	return c.api.SetReaction(cmd.Context(), messageID, args[1])
}

func (c *cli) send(cmd *cobra.Command, args []string) error {
	conversationID, err := parseID(args[0])
	if err != nil {
		return err
	}
	message := strings.Join(args[1:], " ")
	return c.runTurn(cmd, conversationID, func(ctx context.Context) (*client.TurnHandle, error) {
		return c.api.StartTurn(ctx, conversationID, message)
	})
}

func (c *cli) regenerate(cmd *cobra.Command, args []string) error {
	conversationID, err := parseID(args[0])
	if err != nil {
		return err
	}
	messageID, err := parseID(args[1])
	if err != nil {
		return err
	}
	return c.runTurn(cmd, conversationID, func(ctx context.Context) (*client.TurnHandle, error) {
		return c.api.Regenerate(ctx, messageID)
	})
}

// runTurn starts a turn and prints its stream. Ctrl-C cancels the turn on
// the server instead of only dropping the connection.
func (c *cli) runTurn(cmd *cobra.Command, conversationID uint, start func(context.Context) (*client.TurnHandle, error)) error {
	if err := c.state.BeginTurn(conversationID); err != nil {
		return err
	}
	defer c.state.EndTurn(conversationID)

	handle, err := start(cmd.Context())
	if err != nil {
		return err
	}
	c.state.AttachStream(conversationID, handle.StreamID)
	c.state.ApplyServerTruth(handle.Conversation)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.api.CancelStream(cancelCtx, handle.StreamID)
	}()

	out := cmd.OutOrStdout()
	var failure error
	err = c.api.Follow(context.WithoutCancel(ctx), handle.StreamID, client.StreamHandler{
		OnToken: func(ev client.TokenEvent) {
			fmt.Fprint(out, ev.Text)
		},
		OnComplete: func(ev client.CompleteEvent) {
			c.state.ApplyServerTruth(ev.Conversation)
			fmt.Fprintf(out, "\n\n-- %d tokens in %dms", ev.TokenCount, ev.CompletionTimeMs)
			if len(ev.Sources) > 0 {
				fmt.Fprintf(out, ", sources: %s", strings.Join(ev.Sources, ", "))
			}
			fmt.Fprintln(out)
		},
		OnError: func(ev client.ErrorEvent) {
			failure = fmt.Errorf("%s (reason %s, ref %s)", ev.Message, ev.Reason, ev.CorrelationID)
		},
		OnReconnect: func(attempt int, delay time.Duration) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[connection lost, retrying in %s (attempt %d)]\n", delay.Round(time.Millisecond), attempt)
		},
		OnGiveUp: func(error) {
			fmt.Fprintln(cmd.ErrOrStderr(), "\n[could not reconnect; the reply is saved once it finishes, check history]")
		},
	})
	fmt.Fprintln(out)
	if err != nil {
		if errors.Is(err, client.ErrStreamNotFound) {
			return fmt.Errorf("stream %s expired; check the conversation history", handle.StreamID)
		}
		return err
	}
	if failure != nil {
		// Best effort; the server already logged the turn under the same id.
		if err := c.api.Log(context.WithoutCancel(ctx), "warn", "turn failed in cli", map[string]interface{}{
			"conversation_id": conversationID,
			"stream_id":       handle.StreamID,
			"error":           failure.Error(),
		}); err != nil {
			c.logger.Debug("could not forward log", "error", err)
		}
	}
	return failure
}
