// Package discord is a demo TriggerAdapter: it relays Discord channel
// messages into an investigation and renders the resulting stream back
// as channel replies. Placeholders, typing indicators, and reactions —
// chat-UX polish the teacher's channel implementation carries — are
// left out; this adapter exists to prove the TriggerAdapter contract,
// not to be a product-grade Discord bot.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/sreorch/internal/config"
	"github.com/nextlevelbuilder/sreorch/internal/triggeradapter"
	"github.com/nextlevelbuilder/sreorch/pkg/protocol"
)

const serviceName = "sreorch-discord"

// Adapter is the Discord demo TriggerAdapter.
type Adapter struct {
	session *discordgo.Session
	allow   triggeradapter.Allowlist
	limiter *triggeradapter.InboundRateLimiter
	broker  triggeradapter.Broker
	router  triggeradapter.Router

	botUserID string
}

// New builds a Discord Adapter. broker and router are the
// StreamBroker/ConfigClient views this adapter drives; cmd/serve.go
// wires in triggeradapter.HTTPBroker and triggeradapter.ConfigRouter.
func New(cfg config.DiscordAdapterConfig, broker triggeradapter.Broker, router triggeradapter.Router) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	a := &Adapter{
		session: session,
		allow:   triggeradapter.NewAllowlist(cfg.AllowFrom),
		limiter: triggeradapter.NewInboundRateLimiter(),
		broker:  broker,
		router:  router,
	}
	session.AddHandler(a.handleMessage)
	return a, nil
}

// Start opens the Discord gateway connection.
func (a *Adapter) Start(_ context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("discord: fetch bot identity: %w", err)
	}
	a.botUserID = user.ID
	slog.Info("triggeradapter.discord.connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (a *Adapter) Stop(_ context.Context) error {
	return a.session.Close()
}

func (a *Adapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == a.botUserID {
		return
	}
	if !a.allow.Allowed(m.Author.ID) {
		slog.Debug("triggeradapter.discord.rejected_by_allowlist", "user_id", m.Author.ID)
		return
	}
	if !a.limiter.Allow(m.Author.ID) {
		slog.Debug("triggeradapter.discord.rate_limited", "user_id", m.Author.ID)
		return
	}
	if m.Content == "" {
		return
	}

	ids := triggeradapter.Identifiers{
		Surface:      "discord",
		ChannelID:    m.ChannelID,
		UserID:       m.Author.ID,
		ThreadAnchor: m.ChannelID,
		PromptText:   m.Content,
	}

	go a.investigate(context.Background(), ids)
}

func (a *Adapter) investigate(ctx context.Context, ids triggeradapter.Identifiers) {
	threadID := triggeradapter.ThreadID(ids.Surface, ids.ThreadAnchor)

	tenantID, teamID, found, err := a.router.LookupRouting(ctx, serviceName, ids)
	if err != nil {
		slog.Error("triggeradapter.discord.routing_lookup_failed", "error", err)
		return
	}
	if !found {
		tenantID, teamID, found, err = a.router.ProvisionAtomic(ctx, ids)
		if err != nil || !found {
			slog.Debug("triggeradapter.discord.routing_miss", "channel_id", ids.ChannelID)
			return
		}
	}

	teamToken, err := a.router.IssueTeamToken(ctx, tenantID, teamID)
	if err != nil {
		slog.Error("triggeradapter.discord.team_token_failed", "error", err)
		return
	}

	upstream, err := a.broker.Investigate(ctx, ids.PromptText, threadID, tenantID, teamID, teamToken, nil)
	if err != nil {
		slog.Error("triggeradapter.discord.investigate_failed", "thread_id", threadID, "error", err)
		a.send(ids.ChannelID, "investigation failed to start")
		return
	}

	if err := triggeradapter.ConsumeStream(upstream, func(ev protocol.Event) {
		if text := triggeradapter.RenderEvent(ev); text != "" {
			a.send(ids.ChannelID, triggeradapter.Truncate(text, 1900))
		}
	}); err != nil {
		slog.Warn("triggeradapter.discord.stream_broken", "thread_id", threadID, "error", err)
	}
}

func (a *Adapter) send(channelID, content string) {
	if _, err := a.session.ChannelMessageSend(channelID, content); err != nil {
		slog.Warn("triggeradapter.discord.send_failed", "channel_id", channelID, "error", err)
	}
}
