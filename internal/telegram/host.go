// Package telegram runs the scripted dialogue as a Telegram bot. Each chat
// maps to a funnel session so answers land in the same state store the web
// funnel reads.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"funnel-engine/internal/runtime"
	"funnel-engine/internal/script"
	"funnel-engine/internal/session"
	"funnel-engine/internal/transitions"
)

const callbackPrefix = "opt:"

// Sender is the part of the Bot API the host talks to. *bot.Bot implements it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
	EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type Options struct {
	Logger    *zap.Logger
	Script    *script.Script
	PublicURL string
	// Sender overrides the bot created by Run.
	Sender Sender
}

type conversation struct {
	chatID  int64
	session *session.Session
	view    *session.ChatView

	// lastMsg and keyboardMsg are only touched by the presenter goroutine.
	lastMsg     int
	keyboardMsg int
}

type Host struct {
	sessions  *session.Manager
	script    *script.Script
	logger    *zap.Logger
	publicURL string
	sender    Sender

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	chats map[int64]*conversation
}

func New(sessions *session.Manager, opts Options) *Host {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Script == nil {
		opts.Script = script.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		sessions:  sessions,
		script:    opts.Script,
		logger:    opts.Logger.Named("telegram"),
		publicURL: strings.TrimSuffix(opts.PublicURL, "/"),
		sender:    opts.Sender,
		ctx:       ctx,
		cancel:    cancel,
		chats:     make(map[int64]*conversation),
	}
}

// Run polls Telegram until ctx is done, then closes every conversation.
func (h *Host) Run(ctx context.Context, token string) error {
	b, err := bot.New(token,
		bot.WithDefaultHandler(h.handleDefault),
		bot.WithCallbackQueryDataHandler(callbackPrefix, bot.MatchTypePrefix, h.handleCallback),
	)
	if err != nil {
		return fmt.Errorf("creating telegram bot: %w", err)
	}
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, h.handleStart)
	if h.sender == nil {
		h.sender = b
	}

	h.logger.Info("telegram host started")
	b.Start(ctx)
	h.Close()
	h.logger.Info("telegram host stopped")
	return nil
}

// SessionID is the funnel session a Telegram chat writes to.
func SessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func (h *Host) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	if _, err := h.open(update.Message.Chat.ID); err != nil {
		h.logger.Warn("open conversation", zap.Int64("chat", update.Message.Chat.ID), zap.Error(err))
	}
}

func (h *Host) handleDefault(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	_, err := h.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   "Escribe /start para comenzar tu análisis.",
	})
	if err != nil {
		h.logger.Debug("send hint", zap.Error(err))
	}
}

func (h *Host) handleCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	q := update.CallbackQuery
	if q == nil {
		return
	}
	if _, err := h.sender.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: q.ID}); err != nil {
		h.logger.Debug("answer callback", zap.Error(err))
	}

	chatID := q.From.ID
	if q.Message.Message != nil {
		chatID = q.Message.Message.Chat.ID
	}
	i, err := strconv.Atoi(strings.TrimPrefix(q.Data, callbackPrefix))
	if err != nil {
		return
	}
	h.choose(chatID, i)
}

// choose applies the i-th offered option. A tap on a conversation that was
// swept or restarted reopens it; the fresh view offers its own options.
func (h *Host) choose(chatID int64, i int) {
	h.mu.Lock()
	c, ok := h.chats[chatID]
	h.mu.Unlock()
	if !ok || c.view.Closed() {
		if _, err := h.open(chatID); err != nil {
			h.logger.Warn("reopen conversation", zap.Int64("chat", chatID), zap.Error(err))
		}
		return
	}

	ev, ok := transitions.ChoiceEvent(h.script, c.view.State(), i)
	if !ok {
		return
	}
	res, err := c.view.Post(ev)
	if err != nil || !res.Applied {
		h.logger.Debug("choice ignored", zap.Int64("chat", chatID), zap.Int("option", i), zap.Error(err))
	}
}

func (h *Host) open(chatID int64) (*conversation, error) {
	s, err := h.sessions.Get(SessionID(chatID))
	if err != nil {
		return nil, err
	}
	v := h.sessions.OpenChat(h.ctx, s)
	ch, unsubscribe := v.Subscribe()
	c := &conversation{chatID: chatID, session: s, view: v}

	h.mu.Lock()
	h.chats[chatID] = c
	h.mu.Unlock()

	h.wg.Add(1)
	go h.present(c, ch, unsubscribe)
	return c, nil
}

// present mirrors the view into the chat until the view closes. A
// subscription dropped for falling behind, or one whose patch does not
// apply, is renewed and starts again from a snapshot.
func (h *Host) present(c *conversation, ch <-chan runtime.Update, unsubscribe func()) {
	defer h.wg.Done()
	var p presenter
	for {
		var m mirror
		for u := range ch {
			h.sessions.Touch(c.session)
			if u.Command == runtime.CommandNavigate {
				h.sendPlanLink(c)
				continue
			}
			view, ok, err := m.apply(u)
			if err != nil {
				h.logger.Warn("mirror view", zap.Int64("chat", c.chatID), zap.Error(err))
				break
			}
			if ok {
				h.perform(c, p.plan(view))
			}
		}
		unsubscribe()
		if c.view.Closed() || h.ctx.Err() != nil {
			return
		}
		ch, unsubscribe = c.view.Subscribe()
	}
}

func (h *Host) perform(c *conversation, acts []action) {
	ctx := h.ctx
	for _, a := range acts {
		var err error
		switch a.kind {
		case actionTyping:
			_, err = h.sender.SendChatAction(ctx, &bot.SendChatActionParams{
				ChatID: c.chatID,
				Action: models.ChatActionTyping,
			})
		case actionSend:
			var msg *models.Message
			msg, err = h.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: c.chatID, Text: a.text})
			if msg != nil {
				c.lastMsg = msg.ID
			}
		case actionAttach:
			if c.lastMsg == 0 {
				continue
			}
			_, err = h.sender.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
				ChatID:      c.chatID,
				MessageID:   c.lastMsg,
				ReplyMarkup: keyboard(a.options),
			})
			if err == nil {
				c.keyboardMsg = c.lastMsg
			}
		case actionClear:
			if c.keyboardMsg == 0 {
				continue
			}
			_, err = h.sender.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
				ChatID:      c.chatID,
				MessageID:   c.keyboardMsg,
				ReplyMarkup: models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}},
			})
			c.keyboardMsg = 0
		}
		if err != nil {
			h.logger.Warn("telegram call failed", zap.Int64("chat", c.chatID), zap.Error(err))
		}
	}
}

func (h *Host) sendPlanLink(c *conversation) {
	link := h.publicURL + transitions.ResultPath + "?sid=" + c.session.ID
	_, err := h.sender.SendMessage(h.ctx, &bot.SendMessageParams{
		ChatID: c.chatID,
		Text:   h.script.ViewPlanLabel,
		ReplyMarkup: models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: h.script.ViewPlanLabel, URL: link}},
		}},
	})
	if err != nil {
		h.logger.Warn("send plan link", zap.Int64("chat", c.chatID), zap.Error(err))
	}
}

func keyboard(options []string) models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(options))
	for i, opt := range options {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         opt,
			CallbackData: callbackPrefix + strconv.Itoa(i),
		}})
	}
	return models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// Close ends every conversation and waits for the presenters.
func (h *Host) Close() {
	h.mu.Lock()
	chats := h.chats
	h.chats = make(map[int64]*conversation)
	h.mu.Unlock()

	for _, c := range chats {
		h.sessions.Release(c.session, c.view)
	}
	h.cancel()
	h.wg.Wait()
}
