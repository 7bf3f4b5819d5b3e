// Package telegram posts governance outcomes to a Telegram chat and answers
// read-only commands about the followed communities.
package telegram

import (
	"agora/backend/internal/govhub"
	"agora/backend/internal/localization"
	"agora/backend/internal/models"
	"agora/backend/internal/modlog"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	queueSize   = 64
	modlogLines = 5
)

// Hub is the read side of the governance hub used by the bot.
type Hub interface {
	Community(id string) (*models.Community, bool)
	Proposals(communityID string) []govhub.ProposalView
	KickProposals(communityID string) []govhub.KickView
	ModerationLog(q modlog.Query) (modlog.Page, error)
	Following() []string
}

// BotService notifies one chat about kick outcomes and moderation entries.
// It implements govhub.Notifier.
type BotService struct {
	BotAPI    *tgbotapi.BotAPI
	Hub       Hub
	Localizer *localization.Localizer

	sender      Sender
	client      *Client
	defaultLang string

	mu        sync.Mutex
	languages map[int64]string
}

// NewBotService connects to the Bot API with token.
func NewBotService(token string, chatID int64, lang string, hub Hub, l *localization.Localizer) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Printf("INFO: authorized on telegram account %s", bot.Self.UserName)

	s := NewNotifier(bot, chatID, lang, hub, l)
	s.BotAPI = bot
	return s, nil
}

// NewNotifier returns a bot that sends through sender without polling for
// updates.
func NewNotifier(sender Sender, chatID int64, lang string, hub Hub, l *localization.Localizer) *BotService {
	if lang == "" {
		lang = "en"
	}
	s := &BotService{
		Hub:         hub,
		Localizer:   l,
		sender:      sender,
		client:      NewClient(sender, chatID, queueSize),
		defaultLang: lang,
		languages:   make(map[int64]string),
	}
	s.client.Run()
	return s
}

// Close flushes pending notifications.
func (s *BotService) Close() {
	s.client.Close()
	<-s.client.Done()
}

// KickResolved announces the outcome of a kick vote.
func (s *BotService) KickResolved(kp models.KickProposal, c models.Community) {
	var key string
	switch kp.Status {
	case models.StatusPassed:
		key = "kick_passed"
	case models.StatusRejected:
		key = "kick_rejected"
	case models.StatusCanceled:
		key = "kick_canceled"
	default:
		return
	}
	lang := s.language(s.client.ChatID)
	s.client.Enqueue(s.Localizer.GetStringf(lang, key, shortKey(kp.TargetPubkey), c.Name))
}

// ModerationLogged announces a new moderation entry. Kick entries are
// covered by KickResolved.
func (s *BotService) ModerationLogged(entry models.ModerationLogEntry) {
	if entry.Action == models.ActionKick {
		return
	}
	lang := s.language(s.client.ChatID)
	s.client.Enqueue(s.Localizer.GetStringf(lang, "moderation_entry",
		shortKey(entry.Moderator), entry.Action, shortKey(entry.Target), s.communityName(entry.CommunityID)))
}

// Run answers commands until ctx is done. It returns at once when the bot
// was built without a Bot API connection.
func (s *BotService) Run(ctx context.Context) {
	if s.BotAPI == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			s.handleCommand(update.Message)
		}
	}
}

func (s *BotService) handleCommand(msg *tgbotapi.Message) {
	text := s.Reply(msg.Chat.ID, msg.Command(), msg.CommandArguments())
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	if _, err := s.sender.Send(reply); err != nil {
		log.Printf("ERROR: failed to answer /%s in %d: %v", msg.Command(), msg.Chat.ID, err)
	}
}

// Reply builds the answer to a command sent in chatID.
func (s *BotService) Reply(chatID int64, command, args string) string {
	lang := s.language(chatID)
	args = strings.TrimSpace(args)

	switch command {
	case "status":
		if args == "" {
			return s.Localizer.GetString(lang, "status_usage")
		}
		return s.status(lang, args)
	case "modlog":
		if args == "" {
			return s.Localizer.GetString(lang, "modlog_usage")
		}
		return s.modlog(lang, args)
	case "following":
		ids := s.Hub.Following()
		if len(ids) == 0 {
			return s.Localizer.GetString(lang, "following_none")
		}
		return s.Localizer.GetStringf(lang, "following_list", strings.Join(ids, "\n"))
	case "language":
		return s.handleLanguage(chatID, args)
	default:
		return s.Localizer.GetString(lang, "unknown_command")
	}
}

func (s *BotService) status(lang, communityID string) string {
	c, ok := s.Hub.Community(communityID)
	if !ok {
		return s.Localizer.GetString(lang, "not_found")
	}
	open := 0
	for _, p := range s.Hub.Proposals(communityID) {
		if p.Status == models.StatusActive {
			open++
		}
	}
	kicks := 0
	for _, kp := range s.Hub.KickProposals(communityID) {
		if kp.Status == models.StatusActive {
			kicks++
		}
	}
	return s.Localizer.GetStringf(lang, "status_view", c.Name, c.MemberCount(), open, kicks)
}

func (s *BotService) modlog(lang, communityID string) string {
	page, err := s.Hub.ModerationLog(modlog.Query{CommunityID: communityID, Limit: modlogLines})
	if err != nil {
		log.Printf("ERROR: failed to read moderation log of %s: %v", communityID, err)
		return s.Localizer.GetString(lang, "not_found")
	}
	if len(page.Entries) == 0 {
		return s.Localizer.GetString(lang, "modlog_empty")
	}
	var b strings.Builder
	for i, e := range page.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s %s (%s)",
			time.Unix(e.Timestamp, 0).UTC().Format(time.DateTime), e.Action, shortKey(e.Target), shortKey(e.Moderator))
	}
	return b.String()
}

func (s *BotService) communityName(id string) string {
	if c, ok := s.Hub.Community(id); ok && c.Name != "" {
		return c.Name
	}
	return id
}

func (s *BotService) language(chatID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lang, ok := s.languages[chatID]; ok {
		return lang
	}
	return s.defaultLang
}

func shortKey(pubkey string) string {
	if len(pubkey) <= 12 {
		return pubkey
	}
	return pubkey[:8] + "…"
}
