package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/decision"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
)

const testToken = "123456789:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

const reviewChat = int64(-1001234)

// fakeTelegram records Bot API calls and answers them with canned results.
type fakeTelegram struct {
	mu     sync.Mutex
	calls  map[string][]map[string]interface{}
	admins []int64
}

func (f *fakeTelegram) handler(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	body := map[string]interface{}{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls[method] = append(f.calls[method], body)
	f.mu.Unlock()

	var result interface{} = true
	switch method {
	case "sendMessage":
		result = map[string]interface{}{
			"message_id": 77,
			"date":       time.Now().Unix(),
			"chat":       map[string]interface{}{"id": reviewChat, "type": "supergroup"},
		}
	case "getChatAdministrators":
		var admins []map[string]interface{}
		for _, id := range f.admins {
			admins = append(admins, map[string]interface{}{
				"status": "administrator",
				"user":   map[string]interface{}{"id": id, "is_bot": false, "first_name": "admin"},
			})
		}
		result = admins
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
}

func (f *fakeTelegram) get(method string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func newTestBot(t *testing.T) (*telego.Bot, *fakeTelegram) {
	t.Helper()
	fake := &fakeTelegram{calls: map[string][]map[string]interface{}{}}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	b, err := telego.NewBot(testToken, telego.WithAPIServer(srv.URL), telego.WithDiscardLogger())
	require.NoError(t, err)
	return b, fake
}

type fakeDecider struct {
	events []decision.Event
	out    *decision.Outcome
	err    error
}

func (f *fakeDecider) Process(_ context.Context, ev decision.Event) (*decision.Outcome, error) {
	f.events = append(f.events, ev)
	return f.out, f.err
}

func query(data string, from int64, chat int64) telego.CallbackQuery {
	return telego.CallbackQuery{
		ID:   "q1",
		From: telego.User{ID: from, FirstName: "Mod", Username: "mod"},
		Data: data,
		Message: &telego.Message{
			MessageID: 42,
			Chat:      telego.Chat{ID: chat, Type: "supergroup"},
		},
	}
}

func TestAnswerFor(t *testing.T) {
	target := platform.DecisionTarget{Platform: models.PlatformDiscord, AppealID: "abc123", UserID: "1"}

	text, alert := answerFor(nil, &decision.Outcome{Status: models.StatusAccepted}, target)
	assert.Equal(t, "Appeal abc123 accepted.", text)
	assert.False(t, alert)

	text, alert = answerFor(apperr.ErrPermissionDenied, nil, target)
	assert.Equal(t, models.GetTranslation(models.LangEnglish, "perm_denied"), text)
	assert.True(t, alert)

	text, _ = answerFor(apperr.ErrDuplicateDecision, nil, target)
	assert.Equal(t, models.GetTranslation(models.LangEnglish, "already_processed"), text)

	text, alert = answerFor(apperr.Gateway("revoke", errors.New("boom")), nil, target)
	assert.Contains(t, text, "abc123")
	assert.True(t, alert)
}

func TestCallbackRunsDecisionForModerator(t *testing.T) {
	b, fake := newTestBot(t)
	decider := &fakeDecider{out: &decision.Outcome{Status: models.StatusDeclined}}
	c := NewCallbacks(b, decider, reviewChat, []int64{555})

	err := c.HandleCallbackQuery(context.Background(), query("decline:d:abc123:42", 555, reviewChat))
	require.NoError(t, err)

	require.Len(t, decider.events, 1)
	ev := decider.events[0]
	assert.Equal(t, platform.ActionDecline, ev.Action)
	assert.Equal(t, platform.DecisionTarget{Platform: models.PlatformDiscord, AppealID: "abc123", UserID: "42"}, ev.Target)
	assert.True(t, ev.Actor.Moderator)
	assert.Equal(t, "555", ev.Actor.ID)
	assert.Equal(t, "@mod", ev.Actor.Name)
	assert.Equal(t, platform.MessageRef{ChatID: reviewChat, MessageID: 42}, ev.Message)

	answers := fake.get("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "Appeal abc123 declined.", answers[0]["text"])
	assert.Empty(t, fake.get("getChatAdministrators"))
}

func TestCallbackChecksChatAdmins(t *testing.T) {
	b, fake := newTestBot(t)
	fake.admins = []int64{777}
	decider := &fakeDecider{err: apperr.ErrPermissionDenied}
	c := NewCallbacks(b, decider, reviewChat, nil)

	require.NoError(t, c.HandleCallbackQuery(context.Background(), query("accept:r:abc123:42", 777, reviewChat)))
	require.Len(t, decider.events, 1)
	assert.True(t, decider.events[0].Actor.Moderator)

	require.NoError(t, c.HandleCallbackQuery(context.Background(), query("accept:r:abc123:42", 888, reviewChat)))
	require.Len(t, decider.events, 2)
	assert.False(t, decider.events[1].Actor.Moderator)

	answers := fake.get("answerCallbackQuery")
	require.Len(t, answers, 2)
	assert.Equal(t, true, answers[1]["show_alert"])
}

func TestCallbackIgnoresForeignChatAndGarbage(t *testing.T) {
	b, fake := newTestBot(t)
	decider := &fakeDecider{}
	c := NewCallbacks(b, decider, reviewChat, []int64{555})

	require.NoError(t, c.HandleCallbackQuery(context.Background(), query("accept:d:abc123:42", 555, -999)))
	require.NoError(t, c.HandleCallbackQuery(context.Background(), query("unban:1:2", 555, reviewChat)))

	assert.Empty(t, decider.events)
	assert.Len(t, fake.get("answerCallbackQuery"), 2)
}

func TestReviewSendAppeal(t *testing.T) {
	b, fake := newTestBot(t)
	r := NewReview(b, reviewChat, 0)

	a := &models.RobloxAppeal{DiscordUserID: "99"}
	a.AppealID = "abc123def456"
	a.UserID = "42"
	a.Username = "<script>"
	a.AppealReason = "please"
	a.BanReason = "exploiting"

	ref, err := r.SendAppeal(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, platform.MessageRef{ChatID: reviewChat, MessageID: 77}, ref)

	sent := fake.get("sendMessage")
	require.Len(t, sent, 1)
	text := sent[0]["text"].(string)
	assert.Contains(t, text, "&lt;script&gt;")
	assert.Contains(t, text, "Linked Discord")

	markup, _ := json.Marshal(sent[0]["reply_markup"])
	assert.Contains(t, string(markup), "accept:r:abc123def456:42")
	assert.Contains(t, string(markup), "decline:r:abc123def456:42")

	require.NoError(t, r.PostAudit(context.Background(), "audit"))
	sent = fake.get("sendMessage")
	require.Len(t, sent, 2)
	assert.EqualValues(t, reviewChat, sent[1]["chat_id"])
}

func TestReviewEditRestoresButtons(t *testing.T) {
	b, fake := newTestBot(t)
	r := NewReview(b, reviewChat, 0)
	ref := platform.MessageRef{ChatID: reviewChat, MessageID: 77}
	target := platform.DecisionTarget{Platform: models.PlatformDiscord, AppealID: "abc", UserID: "1"}

	require.NoError(t, r.EditMessage(context.Background(), ref, "failed", &target))
	require.NoError(t, r.EditMessage(context.Background(), ref, "done", nil))

	edits := fake.get("editMessageText")
	require.Len(t, edits, 2)
	withButtons, _ := json.Marshal(edits[0]["reply_markup"])
	assert.Contains(t, string(withButtons), "accept:d:abc:1")
	without, _ := json.Marshal(edits[1]["reply_markup"])
	assert.False(t, strings.Contains(string(without), "accept"))
}

func TestRenderAppealStaysUnderLimit(t *testing.T) {
	a := &models.DiscordAppeal{}
	a.AppealID = "x"
	a.AppealReason = strings.Repeat("é", 5000)
	a.AppealReasonOriginal = strings.Repeat("<", 5000)
	for i := 0; i < 15; i++ {
		a.MessageCache = append(a.MessageCache, models.ContextEntry{ChannelName: "general", Content: strings.Repeat("m", 300)})
	}
	out := RenderAppeal(a)
	assert.LessOrEqual(t, len([]rune(out)), maxMessageRunes)
	assert.Contains(t, out, "…</blockquote>")
	assert.Equal(t, strings.Count(out, "<blockquote>"), strings.Count(out, "</blockquote>"))
}
