package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"funnel-engine/internal/clock"
	"funnel-engine/internal/kv"
	"funnel-engine/internal/model"
	"funnel-engine/internal/script"
	"funnel-engine/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPresenterDeliversTypedMessagesOnce(t *testing.T) {
	var p presenter

	typing := model.DialogueView{Messages: []model.Message{{Seq: 1, From: model.FromBot, Shown: "Ho", Typing: true}}}
	assert.Equal(t, []action{{kind: actionTyping}}, p.plan(typing))
	// More frames of the same message are silent.
	assert.Empty(t, p.plan(typing))

	typed := model.DialogueView{
		Messages: []model.Message{{Seq: 1, From: model.FromBot, Shown: "Hola"}},
		Options:  []string{"EMPEZAR"},
	}
	assert.Equal(t, []action{
		{kind: actionSend, text: "Hola"},
		{kind: actionAttach, options: []string{"EMPEZAR"}},
	}, p.plan(typed))
	assert.Empty(t, p.plan(typed))
}

func TestPresenterSkipsVisitorRepliesAndClearsKeyboard(t *testing.T) {
	p := presenter{sentSeq: 1, options: []string{"A", "B"}}

	v := model.DialogueView{
		Processing: true,
		Messages: []model.Message{
			{Seq: 1, From: model.FromBot, Shown: "¿A o B?"},
			{Seq: 2, From: model.FromUser, Shown: "A"},
		},
		Options: []string{},
	}
	assert.Equal(t, []action{{kind: actionTyping}, {kind: actionClear}}, p.plan(v))

	v.Processing = false
	v.Messages = append(v.Messages, model.Message{Seq: 3, From: model.FromBot, Shown: "Bien", Typing: true})
	assert.Equal(t, []action{{kind: actionTyping}}, p.plan(v))
}

func TestPresenterCatchesUpOnAFullView(t *testing.T) {
	var p presenter
	v := model.DialogueView{Messages: []model.Message{
		{Seq: 1, From: model.FromBot, Shown: "uno"},
		{Seq: 2, From: model.FromUser, Shown: "x"},
		{Seq: 3, From: model.FromBot, Shown: "dos"},
		{Seq: 4, From: model.FromBot, Shown: "t", Typing: true},
	}}
	assert.Equal(t, []action{
		{kind: actionSend, text: "uno"},
		{kind: actionSend, text: "dos"},
		{kind: actionTyping},
	}, p.plan(v))
}

func TestKeyboard(t *testing.T) {
	kb := keyboard([]string{"HOMBRE", "MUJER"})
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "MUJER", kb.InlineKeyboard[1][0].Text)
	assert.Equal(t, "opt:1", kb.InlineKeyboard[1][0].CallbackData)
}

type fakeSender struct {
	mu      sync.Mutex
	nextID  int
	texts   []string
	edits   []bot.EditMessageReplyMarkupParams
	actions int
	answers int
	links   []string
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.texts = append(f.texts, p.Text)
	if kb, ok := p.ReplyMarkup.(models.InlineKeyboardMarkup); ok && len(kb.InlineKeyboard) > 0 {
		f.links = append(f.links, kb.InlineKeyboard[0][0].URL)
	}
	return &models.Message{ID: f.nextID}, nil
}

func (f *fakeSender) SendChatAction(context.Context, *bot.SendChatActionParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions++
	return true, nil
}

func (f *fakeSender) EditMessageReplyMarkup(_ context.Context, p *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, *p)
	return &models.Message{ID: p.MessageID}, nil
}

func (f *fakeSender) AnswerCallbackQuery(context.Context, *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return true, nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeSender) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

func newHost(t *testing.T) (*Host, *session.Manager, *clock.Fake, *fakeSender) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	opts := session.DefaultOptions()
	opts.Clock = clk
	sessions := session.NewManager(kv.NewMemory(), opts)
	sender := &fakeSender{}
	h := New(sessions, Options{Sender: sender, PublicURL: "https://funnel.example.com/"})
	t.Cleanup(func() {
		h.Close()
		sessions.Close()
	})
	return h, sessions, clk, sender
}

func startUpdate(chatID int64) *models.Update {
	return &models.Update{Message: &models.Message{Text: "/start", Chat: models.Chat{ID: chatID}}}
}

func TestHostRunsTheDialogue(t *testing.T) {
	h, sessions, clk, sender := newHost(t)
	sc := script.Default()
	ctx := context.Background()

	h.handleStart(ctx, nil, startUpdate(7))
	clk.Advance(30 * time.Second)

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 1 && sender.editCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, sc.Greeting, sender.sent()[0])

	h.handleCallback(ctx, nil, &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "q1",
		From: models.User{ID: 7},
		Data: "opt:0",
	}})
	clk.Advance(30 * time.Second)

	require.Eventually(t, func() bool { return len(sender.sent()) == 2 }, time.Second, 5*time.Millisecond)
	first, _ := sc.Question(0)
	assert.Equal(t, first.Prompt, sender.sent()[1])

	h.choose(7, 1)
	clk.Advance(30 * time.Second)

	s, err := sessions.Lookup(SessionID(7))
	require.NoError(t, err)
	st := s.State.State(ctx)
	require.Len(t, st.Answers, 1)
	assert.Equal(t, first.Options[1], st.Answers[0].SelectedOption)
}

func TestHostSendsPlanLinkWhenComplete(t *testing.T) {
	h, sessions, clk, sender := newHost(t)
	ctx := context.Background()

	s, err := sessions.Get(SessionID(9))
	require.NoError(t, err)
	for i := range model.QuestionCount {
		require.NoError(t, s.State.AppendAnswer(ctx, model.AnswerRecord{QuestionID: i + 1, SelectedOption: "x"}))
	}

	h.handleStart(ctx, nil, startUpdate(9))
	clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return sender.editCount() == 1 }, time.Second, 5*time.Millisecond)

	h.choose(9, 0)
	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.links) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "https://funnel.example.com/resultado?sid=tg:9", sender.links[0])
}

func TestTapOnClosedConversationReopens(t *testing.T) {
	h, sessions, _, _ := newHost(t)

	h.choose(5, 0)
	s, err := sessions.Lookup(SessionID(5))
	require.NoError(t, err)
	require.NotNil(t, s.Chat())

	old := s.Chat()
	sessions.Release(s, old)
	h.choose(5, 0)
	assert.NotSame(t, old, s.Chat())
}
