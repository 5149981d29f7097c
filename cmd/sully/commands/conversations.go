package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/kronktech/sully/pkg/backend"
	"github.com/kronktech/sully/pkg/cli"
	"github.com/kronktech/sully/pkg/conversation"
)

var (
	formatOutput    string
	conversationsDB string
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List and show saved conversations",
	Long: `List and show saved conversations.

Conversations are read from the backend at backend.url, or straight from a
conversation database with --db. The database cannot be opened while
'sully serve' is using it.`,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(formatOutput)
		if err != nil {
			return err
		}
		src, err := openConversations()
		if err != nil {
			return err
		}
		defer src.Close()

		list, err := src.List(cmd.Context())
		if err != nil {
			return err
		}
		if format == cli.FormatTable || format == cli.FormatRaw {
			return cli.Output(cli.ConversationTable(list), cli.OutputOptions{Format: cli.FormatTable, Writer: os.Stdout})
		}
		if list == nil {
			list = []conversation.Conversation{}
		}
		return cli.Output(list, cli.OutputOptions{Format: format, Writer: os.Stdout})
	},
}

var conversationsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(formatOutput)
		if err != nil {
			return err
		}
		src, err := openConversations()
		if err != nil {
			return err
		}
		defer src.Close()

		c, err := src.Get(cmd.Context(), args[0])
		if errors.Is(err, conversation.ErrNotFound) {
			return fmt.Errorf("conversation %q not found", args[0])
		}
		if err != nil {
			return err
		}
		switch format {
		case cli.FormatTable, cli.FormatRaw:
			return cli.Output(cli.ConversationDetail(*c), cli.OutputOptions{Format: format, Writer: os.Stdout})
		default:
			return cli.Output(c, cli.OutputOptions{Format: format, Writer: os.Stdout})
		}
	},
}

func init() {
	conversationsCmd.PersistentFlags().StringVarP(&formatOutput, "format", "o", "table", "output format (table, json, yaml, raw)")
	conversationsCmd.PersistentFlags().StringVar(&conversationsDB, "db", "", "read a conversation database directly")

	conversationsCmd.AddCommand(conversationsListCmd, conversationsGetCmd)
	rootCmd.AddCommand(conversationsCmd)
}

// conversationSource reads conversations from the backend or a database.
type conversationSource interface {
	List(ctx context.Context) ([]conversation.Conversation, error)
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
	Close() error
}

func openConversations() (conversationSource, error) {
	logger := newLogger(os.Stderr)
	if conversationsDB != "" {
		store, err := conversation.NewBadger(conversation.BadgerOptions{Dir: conversationsDB, Logger: logger})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	client := backend.New(cfg.Backend.URL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		backend.WithLogger(logger),
	)
	return backendConversations{client}, nil
}

type backendConversations struct {
	*backend.Client
}

func (b backendConversations) List(ctx context.Context) ([]conversation.Conversation, error) {
	return b.ListConversations(ctx)
}

func (b backendConversations) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	c, err := b.GetConversation(ctx, id)
	var se *backend.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil, conversation.ErrNotFound
	}
	return c, err
}

func (backendConversations) Close() error { return nil }
