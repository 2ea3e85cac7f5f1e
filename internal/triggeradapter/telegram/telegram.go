// Package telegram is a demo TriggerAdapter: it relays Telegram chat
// messages into an investigation and renders the resulting stream back
// as chat replies. It polls updates the way the teacher's channel does,
// trimmed to the fields an investigation actually needs — no menu
// commands, pairing flow, or draft-streaming preview.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/sreorch/internal/config"
	"github.com/nextlevelbuilder/sreorch/internal/triggeradapter"
	"github.com/nextlevelbuilder/sreorch/pkg/protocol"
)

const serviceName = "sreorch-telegram"

// Adapter is the Telegram demo TriggerAdapter.
type Adapter struct {
	bot     *telego.Bot
	allow   triggeradapter.Allowlist
	limiter *triggeradapter.InboundRateLimiter
	broker  triggeradapter.Broker
	router  triggeradapter.Router

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds a Telegram Adapter.
func New(cfg config.TelegramAdapterConfig, broker triggeradapter.Broker, router triggeradapter.Router) (*Adapter, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &Adapter{
		bot:     bot,
		allow:   triggeradapter.NewAllowlist(cfg.AllowFrom),
		limiter: triggeradapter.NewInboundRateLimiter(),
		broker:  broker,
		router:  router,
	}, nil
}

// Start begins long polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel
	a.pollDone = make(chan struct{})

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	slog.Info("triggeradapter.telegram.connected", "username", a.bot.Username())

	go func() {
		defer close(a.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				a.handleUpdate(update)
			}
		}
	}()
	return nil
}

// Stop cancels the polling loop and waits for it to exit.
func (a *Adapter) Stop(_ context.Context) error {
	if a.pollCancel != nil {
		a.pollCancel()
	}
	if a.pollDone != nil {
		<-a.pollDone
	}
	return nil
}

func (a *Adapter) handleUpdate(update telego.Update) {
	message := update.Message
	if message == nil || message.Text == "" || message.From == nil {
		return
	}

	userID := fmt.Sprintf("%d", message.From.ID)
	senderID := userID
	if message.From.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, message.From.Username)
	}
	if !a.allow.Allowed(senderID) {
		slog.Debug("triggeradapter.telegram.rejected_by_allowlist", "sender_id", senderID)
		return
	}
	if !a.limiter.Allow(senderID) {
		slog.Debug("triggeradapter.telegram.rate_limited", "sender_id", senderID)
		return
	}

	chatID := fmt.Sprintf("%d", message.Chat.ID)
	ids := triggeradapter.Identifiers{
		Surface:      "telegram",
		ChannelID:    chatID,
		UserID:       userID,
		ThreadAnchor: chatID,
		PromptText:   message.Text,
	}

	go a.investigate(context.Background(), ids, message.Chat.ID)
}

func (a *Adapter) investigate(ctx context.Context, ids triggeradapter.Identifiers, chatID int64) {
	threadID := triggeradapter.ThreadID(ids.Surface, ids.ThreadAnchor)

	tenantID, teamID, found, err := a.router.LookupRouting(ctx, serviceName, ids)
	if err != nil {
		slog.Error("triggeradapter.telegram.routing_lookup_failed", "error", err)
		return
	}
	if !found {
		tenantID, teamID, found, err = a.router.ProvisionAtomic(ctx, ids)
		if err != nil || !found {
			slog.Debug("triggeradapter.telegram.routing_miss", "chat_id", chatID)
			return
		}
	}

	teamToken, err := a.router.IssueTeamToken(ctx, tenantID, teamID)
	if err != nil {
		slog.Error("triggeradapter.telegram.team_token_failed", "error", err)
		return
	}

	upstream, err := a.broker.Investigate(ctx, ids.PromptText, threadID, tenantID, teamID, teamToken, nil)
	if err != nil {
		slog.Error("triggeradapter.telegram.investigate_failed", "thread_id", threadID, "error", err)
		a.send(chatID, "investigation failed to start")
		return
	}

	if err := triggeradapter.ConsumeStream(upstream, func(ev protocol.Event) {
		if text := triggeradapter.RenderEvent(ev); text != "" {
			a.send(chatID, triggeradapter.Truncate(text, 3900))
		}
	}); err != nil {
		slog.Warn("triggeradapter.telegram.stream_broken", "thread_id", threadID, "error", err)
	}
}

func (a *Adapter) send(chatID int64, content string) {
	if _, err := a.bot.SendMessage(context.Background(), tu.Message(tu.ID(chatID), content)); err != nil {
		slog.Warn("triggeradapter.telegram.send_failed", "chat_id", chatID, "error", err)
	}
}
