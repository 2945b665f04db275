package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"servchat/internal/client"
	"servchat/internal/livesync"
	"servchat/internal/model"
)

var (
	chatSector string
	dmWith     string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Follow a sector chat and post lines from stdin",
	Long: `Prints the sector's messages as they change. Every line typed is
posted to the sector; it shows up immediately and is confirmed or rolled back
once the server answers.`,
	RunE: runChat,
}

var dmCmd = &cobra.Command{
	Use:   "dm",
	Short: "Follow a direct conversation and send lines from stdin",
	RunE:  runDM,
}

func init() {
	chatCmd.Flags().StringVar(&chatSector, "sector", "", "sector to follow (defaults to your own)")
	dmCmd.Flags().StringVar(&dmWith, "with", "", "user id or email of the other participant")
	_ = dmCmd.MarkFlagRequired("with")
}

// printer renders a list snapshot once per change, skipping repeats.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	seen map[string]bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, seen: make(map[string]bool)}
}

func (p *printer) line(id, author, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if livesync.IsProvisional(id) {
		fmt.Fprintf(p.w, "  (sending) %s\n", content)
		return
	}
	if p.seen[id] {
		return
	}
	p.seen[id] = true
	fmt.Fprintf(p.w, "[%s] %s\n", author, content)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := session(ctx)
	if err != nil {
		return err
	}
	sector := chatSector
	if sector == "" {
		sector = c.Self().Sector
	}
	if sector == "" {
		return fmt.Errorf("no sector: pass --sector")
	}

	stream, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	names := userNames(ctx, c)
	out := newPrinter(cmd.OutOrStdout())
	chat := c.SectorChat(stream, func(items []model.Message) {
		for _, m := range items {
			out.line(m.ID, names(m.AuthorID), m.Content)
		}
	}, logger)
	defer chat.Close()

	if err := chat.SetScope(ctx, client.SectorScope(sector)); err != nil {
		return err
	}
	return readLines(ctx, cmd.InOrStdin(), cmd.ErrOrStderr(), stream, func(text string) error {
		_, err := chat.Send(ctx, model.Message{Sector: sector, Content: text})
		return err
	})
}

func runDM(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := session(ctx)
	if err != nil {
		return err
	}
	partner, err := resolveUser(ctx, c, dmWith)
	if err != nil {
		return err
	}

	stream, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	names := userNames(ctx, c)
	out := newPrinter(cmd.OutOrStdout())
	conv := c.Conversation(stream, func(items []model.DirectMessage) {
		for _, m := range items {
			out.line(m.ID, names(m.SenderID), m.Content)
		}
	}, logger)
	defer conv.Close()

	self := c.Self().ID
	if err := conv.SetScope(ctx, client.ConversationScope(self, partner.ID)); err != nil {
		return err
	}
	if err := c.MarkRead(ctx, livesync.DirectMessages, partner.ID); err != nil {
		logger.Debug("mark read failed", zap.Error(err))
	}
	return readLines(ctx, cmd.InOrStdin(), cmd.ErrOrStderr(), stream, func(text string) error {
		_, err := conv.Send(ctx, model.DirectMessage{RecipientID: partner.ID, Content: text})
		return err
	})
}

// readLines hands every non-empty input line to send until input ends, the
// context is cancelled or the change feed drops.
func readLines(ctx context.Context, in io.Reader, errOut io.Writer, stream *client.Stream, send func(string) error) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stream.Done():
			return fmt.Errorf("change feed closed: %w", stream.Err())
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			if err := send(text); err != nil {
				fmt.Fprintf(errOut, "  (not sent: %v)\n", err)
			}
		}
	}
}

func userNames(ctx context.Context, c *client.Client) func(id string) string {
	names := map[string]string{}
	if users, err := c.Users(ctx); err == nil {
		for _, u := range users {
			names[u.ID] = u.Name
		}
	}
	return func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}
}

func resolveUser(ctx context.Context, c *client.Client, who string) (model.User, error) {
	users, err := c.Users(ctx)
	if err != nil {
		return model.User{}, err
	}
	for _, u := range users {
		if u.ID == who || strings.EqualFold(u.Email, who) {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("no user %q", who)
}
