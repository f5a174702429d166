package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topic_syncer/internal/domain"
	"topic_syncer/internal/query"
)

type apiCall struct {
	Method  string
	Payload map[string]any
}

type fakeBotAPI struct {
	t       *testing.T
	mu      sync.Mutex
	calls   []apiCall
	updates [][]Update
	server  *httptest.Server
}

func newFakeBotAPI(t *testing.T, batches ...[]Update) *fakeBotAPI {
	f := &fakeBotAPI{t: t, updates: batches}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	assert.True(f.t, strings.HasPrefix(r.URL.Path, "/botTOKEN/"))

	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Payload: payload})
	var result any = true
	if method == "getUpdates" {
		result = []Update{}
		if len(f.updates) > 0 {
			result = f.updates[0]
			f.updates = f.updates[1:]
		}
	}
	f.mu.Unlock()

	if method == "getUpdates" {
		if batch, ok := result.([]Update); ok && len(batch) == 0 {
			select {
			case <-r.Context().Done():
			case <-time.After(20 * time.Millisecond):
			}
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (f *fakeBotAPI) sent() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == "sendMessage" || c.Method == "answerCallbackQuery" {
			out = append(out, c)
		}
	}
	return out
}

type fakeQuery struct {
	categories []string
	topics     map[string][]query.TopicView
	gotLimit   int
	delay      time.Duration
}

func (q *fakeQuery) Categories(context.Context) ([]string, error) {
	return q.categories, nil
}

func (q *fakeQuery) TopicsFor(ctx context.Context, category string, limit int) ([]query.TopicView, error) {
	q.gotLimit = limit
	if q.delay > 0 {
		time.Sleep(q.delay)
	}
	topics, ok := q.topics[category]
	if !ok {
		return nil, domain.ErrCategoryNotFound
	}
	return topics, nil
}

func newTestBot(api *fakeBotAPI, q Query) *Bot {
	return NewBot(NewAPI(api.server.URL, "TOKEN", time.Second), q, 2, time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func message(text string) Update {
	return Update{UpdateID: 1, Message: &Message{MessageID: 10, Chat: Chat{ID: 42}, Text: text}}
}

func TestBot_CategoriesCommandSendsKeyboard(t *testing.T) {
	api := newFakeBotAPI(t)
	bot := newTestBot(api, &fakeQuery{categories: []string{"Gov", "Tech"}})

	bot.handleUpdate(context.Background(), message("/categories"))

	calls := api.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].Method)
	assert.Equal(t, float64(42), calls[0].Payload["chat_id"])
	assert.Contains(t, calls[0].Payload["text"], "Gov")

	markup := calls[0].Payload["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "Gov", first["text"])
	assert.Equal(t, "t:Gov", first["callback_data"])
}

func TestBot_CallbackSendsTopics(t *testing.T) {
	api := newFakeBotAPI(t)
	q := &fakeQuery{topics: map[string][]query.TopicView{
		"Gov": {{Name: "T2", URL: "u2", Summary: "s2"}, {Name: "T1", URL: "u1", Summary: "s1"}},
	}}
	bot := newTestBot(api, q)

	bot.handleUpdate(context.Background(), Update{UpdateID: 2, CallbackQuery: &CallbackQuery{
		ID:      "cb-1",
		Message: &Message{Chat: Chat{ID: 42}},
		Data:    "t:Gov",
	}})

	calls := api.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, "answerCallbackQuery", calls[0].Method)
	assert.Equal(t, "cb-1", calls[0].Payload["callback_query_id"])
	assert.Equal(t, "Newest topics in Gov:\n\n1. T2\ns2\nu2\n\n2. T1\ns1\nu1", calls[1].Payload["text"])
	assert.Equal(t, 2, q.gotLimit)
}

func TestBot_LongCategoryUsesHashedCallback(t *testing.T) {
	long := strings.Repeat("Governance and treasury ", 4)
	data := callbackData(long)
	assert.True(t, strings.HasPrefix(data, "h:"))
	assert.LessOrEqual(t, len(data), maxCallbackData)

	api := newFakeBotAPI(t)
	bot := newTestBot(api, &fakeQuery{
		categories: []string{"Gov", long},
		topics:     map[string][]query.TopicView{long: {}},
	})

	bot.handleUpdate(context.Background(), Update{CallbackQuery: &CallbackQuery{
		ID: "cb-2", Message: &Message{Chat: Chat{ID: 7}}, Data: data,
	}})

	calls := api.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, "No topics in "+long+" yet.", calls[1].Payload["text"])
}

func TestBot_FreeTextIsNotACommand(t *testing.T) {
	api := newFakeBotAPI(t)
	bot := newTestBot(api, &fakeQuery{topics: map[string][]query.TopicView{"Gov": {{Name: "T1"}}}})

	bot.handleUpdate(context.Background(), message("Gov"))

	calls := api.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "Use /categories to pick a category.", calls[0].Payload["text"])
}

func TestBot_TopicsCommand(t *testing.T) {
	api := newFakeBotAPI(t)
	bot := newTestBot(api, &fakeQuery{topics: map[string][]query.TopicView{"Gov": {}}})

	bot.handleUpdate(context.Background(), message("/topics@forum_bot Nope"))
	bot.handleUpdate(context.Background(), message("/topics Gov"))
	bot.handleUpdate(context.Background(), message("/topics"))

	calls := api.sent()
	require.Len(t, calls, 3)
	assert.Equal(t, "Unknown category.", calls[0].Payload["text"])
	assert.Equal(t, "No topics in Gov yet.", calls[1].Payload["text"])
	assert.Equal(t, "Usage: /topics <category>", calls[2].Payload["text"])
}

func TestBot_RunDrainsHandlersOnShutdown(t *testing.T) {
	api := newFakeBotAPI(t, []Update{{UpdateID: 5, Message: &Message{Chat: Chat{ID: 1}, Text: "/topics Gov"}}})
	q := &fakeQuery{
		topics: map[string][]query.TopicView{"Gov": {{Name: "T1", URL: "u1", Summary: "s1"}}},
		delay:  100 * time.Millisecond,
	}
	bot := newTestBot(api, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.calls) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("bot did not stop")
	}

	calls := api.sent()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Payload["text"], "T1")

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, float64(6), api.calls[1].Payload["offset"])
}

func TestParseCommand(t *testing.T) {
	cmd, arg := parseCommand("  /Topics@bot   Gov Talk ")
	assert.Equal(t, "/topics", cmd)
	assert.Equal(t, "Gov Talk", arg)

	cmd, arg = parseCommand("hello")
	assert.Empty(t, cmd)
	assert.Equal(t, "hello", arg)
}
