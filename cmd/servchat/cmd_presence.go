package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"servchat/internal/client"
	"servchat/internal/livesync"
	"servchat/internal/presence"
	"servchat/internal/realtime"
)

var presenceInterval time.Duration

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Report yourself online until interrupted",
	RunE:  runPresence,
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Print unread direct messages and announcements as they change",
	RunE:  runUnread,
}

func init() {
	presenceCmd.Flags().DurationVar(&presenceInterval, "interval", presence.DefaultInterval, "heartbeat interval")
}

func runPresence(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := session(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s is online, Ctrl-C to go offline\n", c.Self().Name)
	(&presence.Beater{Reporter: c, Interval: presenceInterval, Logger: logger}).Run(ctx)
	return nil
}

func runUnread(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := session(ctx)
	if err != nil {
		return err
	}
	stream, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	u := livesync.NewUnread(c, logger)
	defer u.Close()
	if err := u.Refresh(ctx); err != nil {
		return err
	}
	u.Watch(stream,
		client.DirectScopeFor(c.Self().ID),
		realtime.Scope{Table: realtime.TableAnnouncements},
		realtime.Scope{Table: realtime.TableAnnouncementReads, Column: "user_id", Value: c.Self().ID},
	)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var last livesync.Counts
	first := true
	for {
		if got := u.Counts(); first || got != last {
			fmt.Fprintf(cmd.OutOrStdout(), "direct messages: %d  announcements: %d\n", got.DirectMessages, got.Announcements)
			last, first = got, false
		}
		select {
		case <-ctx.Done():
			return nil
		case <-stream.Done():
			return stream.Err()
		case <-ticker.C:
		}
	}
}
