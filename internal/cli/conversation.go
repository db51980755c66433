package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cobuilders/inbox/internal/messaging"
	"github.com/cobuilders/inbox/internal/models"
	"github.com/spf13/cobra"
)

const (
	timeFormat          = "2006-01-02 15:04"
	inboxPreviewColumns = 48
)

// targetFlags selects a conversation by id, application or peer.
type targetFlags struct {
	conversation string
	application  string
	peer         string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.conversation, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&f.application, "application", "", "application id")
	cmd.Flags().StringVar(&f.peer, "peer", "", "user to message directly")
}

// target resolves the flags, falling back to the last opened conversation.
func (f *targetFlags) target(opts *rootOptions) (messaging.Target, error) {
	set := 0
	for _, v := range []string{f.conversation, f.application, f.peer} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	switch {
	case set > 1:
		return messaging.Target{}, errors.New("use only one of --conversation, --application or --peer")
	case f.conversation != "":
		return messaging.ConversationTarget(strings.TrimSpace(f.conversation)), nil
	case f.application != "":
		return messaging.ApplicationTarget(strings.TrimSpace(f.application)), nil
	case f.peer != "":
		return messaging.PeerTarget(strings.TrimSpace(f.peer)), nil
	}

	saved, err := opts.contexts.Load()
	if err != nil {
		return messaging.Target{}, err
	}
	if saved.ConversationID == "" {
		return messaging.Target{}, errors.New("no conversation selected: pass --conversation, --application or --peer")
	}
	return messaging.ConversationTarget(saved.ConversationID), nil
}

// remember stores the opened conversation as the default for later commands.
func (o *rootOptions) remember(viewer string, feed *messaging.Feed) {
	conv := feed.Conversation()
	if conv == nil {
		return
	}
	saved, err := o.contexts.Load()
	if err != nil || saved.ViewerID != viewer {
		return
	}
	saved.SetConversation(conv.ID)
	_ = o.contexts.Save(saved)
}

func describeError(err error) error {
	switch {
	case errors.Is(err, messaging.ErrNotStarted):
		return fmt.Errorf("%w: the startup has not started this conversation yet", err)
	case errors.Is(err, messaging.ErrTransientStore):
		return fmt.Errorf("%w (try again)", err)
	default:
		return err
	}
}

func newInboxCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "inbox",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, err := opts.resolveViewer()
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				entries, err := app.Service.GetInbox(ctx, viewer)
				if err != nil {
					return describeError(err)
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "no conversations")
					return nil
				}
				return writeTable(out, opts.palette(out).headers("UNREAD", "WITH", "ABOUT", "LAST", "PREVIEW", "ID"), inboxRows(opts.palette(out), entries))
			})
		},
	}
}

func inboxRows(p palette, entries []models.InboxEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		about := "direct"
		if e.Conversation.Anchor != nil {
			about = e.Conversation.Anchor.StartupName
			if about == "" {
				about = e.Conversation.Anchor.ApplicationID
			}
		}
		last := "-"
		if e.LastMessageAt != nil {
			last = e.LastMessageAt.Local().Format(timeFormat)
		}

		row := []string{
			strconv.Itoa(e.UnreadCount),
			e.OtherDisplayName,
			about,
			last,
			truncate(e.LastMessagePreview, inboxPreviewColumns),
			e.Conversation.ID,
		}
		switch {
		case e.UnreadCount > 0:
			for i := range row {
				row[i] = p.render(p.unread, row[i])
			}
		case e.LastMessageAt == nil:
			for i := range row {
				row[i] = p.render(p.dim, row[i])
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var tf targetFlags
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"open"},
		Short:   "Show a conversation and mark it read",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, err := opts.resolveViewer()
			if err != nil {
				return err
			}
			target, err := tf.target(opts)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				feed, err := app.Service.OpenConversation(ctx, target, viewer)
				if err != nil {
					return describeError(err)
				}
				defer feed.Close()
				opts.remember(viewer, feed)

				history := feed.History()
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), history)
				}
				out := cmd.OutOrStdout()
				if feed.Pending() {
					fmt.Fprintln(out, "no conversation yet: send a message to start one")
					return nil
				}
				if len(history) == 0 {
					fmt.Fprintln(out, "no messages yet")
					return nil
				}
				return writeTable(out, nil, historyRows(opts.palette(out), viewer, history))
			})
		},
	}
	tf.register(cmd)
	return cmd
}

func historyRows(p palette, viewer string, history []*models.Message) [][]string {
	rows := make([][]string, 0, len(history))
	for _, msg := range history {
		sender := msg.SenderID
		if sender == viewer {
			sender = p.render(p.self, "me")
		}
		body := msg.Content
		if msg.Attachment != nil {
			name := msg.Attachment.Name
			if name == "" {
				name = msg.Attachment.URL
			}
			body = strings.TrimSpace(body + " [attachment: " + name + "]")
		}
		rows = append(rows, []string{
			p.render(p.dim, msg.CreatedAt.Local().Format(timeFormat)),
			sender,
			body,
		})
	}
	return rows
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var tf targetFlags
	var attachmentURL, attachmentName, attachmentType string
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message",
		Long:  "Send a message. Messaging a peer with --peer starts the conversation if needed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, err := opts.resolveViewer()
			if err != nil {
				return err
			}
			target, err := tf.target(opts)
			if err != nil {
				return err
			}

			content := ""
			if len(args) == 1 {
				content = args[0]
			}
			var attachment *models.Attachment
			if strings.TrimSpace(attachmentURL) != "" {
				attachment = &models.Attachment{URL: attachmentURL, Name: attachmentName, Type: attachmentType}
			}

			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				feed, err := app.Service.OpenConversation(ctx, target, viewer)
				if err != nil {
					return describeError(err)
				}
				defer feed.Close()

				msg, err := feed.Send(ctx, content, attachment)
				if err != nil {
					return describeError(err)
				}
				opts.remember(viewer, feed)

				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), msg)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
				return nil
			})
		},
	}
	tf.register(cmd)
	cmd.Flags().StringVar(&attachmentURL, "attachment", "", "attachment URL")
	cmd.Flags().StringVar(&attachmentName, "attachment-name", "", "attachment file name")
	cmd.Flags().StringVar(&attachmentType, "attachment-type", "", "attachment MIME type")
	return cmd
}

func newNoticesCmd(opts *rootOptions) *cobra.Command {
	var unreadOnly, markRead bool
	var limit int
	cmd := &cobra.Command{
		Use:   "notices",
		Short: "List message notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, err := opts.resolveViewer()
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				notices, err := app.Notifications.ListForRecipient(ctx, viewer, unreadOnly, limit)
				if err != nil {
					return err
				}
				if markRead {
					if _, err := app.Notifications.MarkAllRead(ctx, viewer); err != nil {
						return err
					}
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), notices)
				}
				out := cmd.OutOrStdout()
				if len(notices) == 0 {
					fmt.Fprintln(out, "no notifications")
					return nil
				}
				p := opts.palette(out)
				rows := make([][]string, 0, len(notices))
				for _, n := range notices {
					row := []string{n.CreatedAt.Local().Format(timeFormat), n.Title, formatYesNo(n.IsRead), n.ConversationID}
					if !n.IsRead {
						row[1] = p.render(p.unread, row[1])
					}
					rows = append(rows, row)
				}
				return writeTable(out, p.headers("WHEN", "TITLE", "READ", "CONVERSATION"), rows)
			})
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only unread notifications")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark all notifications read after listing")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum notifications to show")
	return cmd
}
