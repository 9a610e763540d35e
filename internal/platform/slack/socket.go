package slack

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// Listen runs the Socket Mode event loop, dispatching message and
// reaction events until the context is cancelled. The socketmode client
// reconnects internally.
func (c *Client) Listen(ctx context.Context, h platform.EventHandler) error {
	go func() {
		for evt := range c.socket.Events {
			switch evt.Type {
			case socketmode.EventTypeConnected:
				slog.Debug("slack socket mode connected")
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					c.socket.Ack(*evt.Request)
				}
				c.dispatchEvent(ctx, apiEvent, h)
			}
		}
	}()
	return c.socket.RunContext(ctx)
}

func (c *Client) dispatchEvent(ctx context.Context, apiEvent slackevents.EventsAPIEvent, h platform.EventHandler) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.User == c.botUserID || ev.BotID != "" || ev.SubType == "message_deleted" {
			return
		}
		rootTS := ev.ThreadTimeStamp
		if rootTS == "" {
			rootTS = ev.TimeStamp
		}
		// Attachments are not carried on the event payload; fetch the
		// message over the Web API to see them.
		var files []string
		if ev.SubType == "file_share" {
			files = c.messageFiles(ctx, ev.Channel, ev.TimeStamp)
		}
		h.OnMessage(platform.MessageEvent{
			PostID:    encodeID(ev.Channel, ev.TimeStamp),
			ChannelID: ev.Channel,
			ThreadID:  encodeID(ev.Channel, rootTS),
			UserID:    ev.User,
			Body:      ev.Text,
			Files:     files,
			Edited:    ev.SubType == "message_changed",
		})

	case *slackevents.ReactionAddedEvent:
		if ev.User == c.botUserID {
			return
		}
		h.OnReaction(platform.ReactionEvent{
			PostID: encodeID(ev.Item.Channel, ev.Item.Timestamp),
			UserID: ev.User,
			Emoji:  ev.Reaction,
		})

	case *slackevents.ReactionRemovedEvent:
		if ev.User == c.botUserID {
			return
		}
		h.OnReaction(platform.ReactionEvent{
			PostID:  encodeID(ev.Item.Channel, ev.Item.Timestamp),
			UserID:  ev.User,
			Emoji:   ev.Reaction,
			Removed: true,
		})
	}
}
