// Package chat bridges Twitch IRC to the request engine: it joins the
// configured channel, classifies inbound messages into plain commands, bits
// cheers and channel point redemptions, and carries outbound announcements.
package chat

import (
	"context"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/song-tender/config"
	"github.com/onnwee/song-tender/engine"
	"github.com/onnwee/song-tender/telemetry"
)

// Handler receives classified chat events. Implemented by engine.Engine.
type Handler interface {
	HandleMessage(ctx context.Context, ev engine.ChatEvent)
	HandleCheer(ctx context.Context, ev engine.ChatEvent, bits int)
	HandleRedemption(ctx context.Context, ev engine.ChatEvent, rewardID string)
}

// Bot is the IRC connection. Say is safe to call from any goroutine.
type Bot struct {
	client  *twitch.Client
	channel string
	self    string
}

func NewBot(env *config.Env) *Bot {
	return &Bot{
		client:  twitch.NewClient(env.TwitchBotUsername, env.TwitchOAuthToken),
		channel: env.TwitchChannel,
		self:    strings.ToLower(env.TwitchBotUsername),
	}
}

// Say sends a message to the channel.
func (b *Bot) Say(channel, text string) {
	b.client.Say(channel, text)
}

// Run connects and blocks until the context is canceled or the connection
// fails. Each inbound message is handled on its own goroutine so a slow
// provider call never stalls the read loop.
func (b *Bot) Run(ctx context.Context, handler Handler) error {
	b.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if strings.EqualFold(msg.User.Name, b.self) {
			return
		}
		ev := engine.ChatEvent{
			Channel: msg.Channel,
			User:    msg.User.DisplayName,
			Roles:   rolesFromBadges(msg.User.Badges),
			Text:    msg.Message,
		}
		msgCtx := telemetry.WithCorrelation(ctx, uuid.NewString())
		go func() {
			switch {
			case msg.CustomRewardID != "":
				handler.HandleRedemption(msgCtx, ev, msg.CustomRewardID)
			case msg.Bits > 0:
				handler.HandleCheer(msgCtx, ev, msg.Bits)
			default:
				handler.HandleMessage(msgCtx, ev)
			}
		}()
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		b.client.Disconnect()
		close(done)
	}()

	b.client.Join(b.channel)
	slog.Info("joining twitch chat", slog.String("channel", b.channel))
	if err := b.client.Connect(); err != nil {
		select {
		case <-ctx.Done():
		default:
			return err
		}
	}
	<-done
	return nil
}

// rolesFromBadges maps IRC badges to engine roles. Badge presence is what
// matters; the badge version is ignored.
func rolesFromBadges(badges map[string]int) []engine.Role {
	var roles []engine.Role
	if _, ok := badges["broadcaster"]; ok {
		roles = append(roles, engine.RoleStreamer)
	}
	if _, ok := badges["moderator"]; ok {
		roles = append(roles, engine.RoleModerator)
	}
	if _, ok := badges["vip"]; ok {
		roles = append(roles, engine.RoleVIP)
	}
	if _, ok := badges["subscriber"]; ok {
		roles = append(roles, engine.RoleSubscriber)
	}
	if _, ok := badges["founder"]; ok {
		roles = append(roles, engine.RoleSubscriber)
	}
	return roles
}
