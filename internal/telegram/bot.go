package telegram

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"topic_syncer/internal/query"
)

const (
	// Telegram rejects callback data longer than this many bytes.
	maxCallbackData = 64

	callbackTopics = "t:"
	callbackHashed = "h:"

	handlerTimeout = 30 * time.Second
	maxBackoff     = 30 * time.Second
)

const welcomeText = `Hi! I mirror the forum's categories and summarize their newest topics.

/categories - list categories
/topics <category> - newest topics of a category`

// Query is the read side the bot depends on.
type Query interface {
	Categories(ctx context.Context) ([]string, error)
	TopicsFor(ctx context.Context, category string, limit int) ([]query.TopicView, error)
}

type Bot struct {
	api         *API
	query       Query
	limit       int
	pollTimeout time.Duration
	logger      *slog.Logger

	wg sync.WaitGroup
}

func NewBot(api *API, q Query, limit int, pollTimeout time.Duration, logger *slog.Logger) *Bot {
	return &Bot{
		api:         api,
		query:       q,
		limit:       limit,
		pollTimeout: pollTimeout,
		logger:      logger.With("component", "telegram"),
	}
}

// Run long-polls for updates until ctx is done, then waits for in-flight
// handlers to finish.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("telegram bot started", "poll_timeout", b.pollTimeout)
	defer b.wg.Wait()

	var offset int64
	backoff := time.Second

	for {
		updates, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("telegram bot stopping")
				return nil
			}

			b.logger.Warn("get updates failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}

			b.wg.Add(1)
			go func(u Update) {
				defer b.wg.Done()
				hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
				defer cancel()
				b.handleUpdate(hctx, u)
			}(u)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	command, arg := parseCommand(msg.Text)

	switch command {
	case "/start", "/help":
		b.send(ctx, msg.Chat.ID, welcomeText, nil)
	case "/categories":
		b.sendCategories(ctx, msg.Chat.ID)
	case "/topics":
		if arg == "" {
			b.send(ctx, msg.Chat.ID, "Usage: /topics <category>", nil)
			return
		}
		b.sendTopics(ctx, msg.Chat.ID, arg)
	default:
		b.send(ctx, msg.Chat.ID, "Use /categories to pick a category.", nil)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *CallbackQuery) {
	if err := b.api.AnswerCallbackQuery(ctx, cq.ID); err != nil {
		b.logger.Warn("answer callback failed", "error", err)
	}
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	category, err := b.resolveCallback(ctx, cq.Data)
	if err != nil {
		b.send(ctx, chatID, query.UserMessage(err), nil)
		return
	}
	b.sendTopics(ctx, chatID, category)
}

func (b *Bot) resolveCallback(ctx context.Context, data string) (string, error) {
	switch {
	case strings.HasPrefix(data, callbackTopics):
		return strings.TrimPrefix(data, callbackTopics), nil
	case strings.HasPrefix(data, callbackHashed):
		names, err := b.query.Categories(ctx)
		if err != nil {
			return "", err
		}
		for _, name := range names {
			if callbackData(name) == data {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("callback %q: %w", data, errUnknownCallback)
}

var errUnknownCallback = errors.New("unknown callback")

func (b *Bot) sendCategories(ctx context.Context, chatID int64) {
	names, err := b.query.Categories(ctx)
	if err != nil {
		b.logger.Error("list categories failed", "error", err)
		b.send(ctx, chatID, query.UserMessage(err), nil)
		return
	}
	if len(names) == 0 {
		b.send(ctx, chatID, "No categories yet, try again after the next sync.", nil)
		return
	}

	keyboard := &InlineKeyboardMarkup{}
	for _, name := range names {
		keyboard.InlineKeyboard = append(keyboard.InlineKeyboard, []InlineKeyboardButton{{
			Text:         name,
			CallbackData: callbackData(name),
		}})
	}

	b.send(ctx, chatID, "Categories:\n"+strings.Join(names, "\n"), keyboard)
}

func (b *Bot) sendTopics(ctx context.Context, chatID int64, category string) {
	topics, err := b.query.TopicsFor(ctx, category, b.limit)
	if err != nil {
		if !errors.Is(err, query.ErrClosed) {
			b.logger.Warn("topics query failed", "category", category, "error", err)
		}
		b.send(ctx, chatID, query.UserMessage(err), nil)
		return
	}

	b.send(ctx, chatID, formatTopics(category, topics), nil)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) {
	if err := b.api.SendMessage(ctx, chatID, text, markup); err != nil {
		b.logger.Warn("send message failed", "chat_id", chatID, "error", err)
	}
}

func formatTopics(category string, topics []query.TopicView) string {
	if len(topics) == 0 {
		return fmt.Sprintf("No topics in %s yet.", category)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Newest topics in %s:", category)
	for i, t := range topics {
		fmt.Fprintf(&sb, "\n\n%d. %s\n%s\n%s", i+1, t.Name, t.Summary, t.URL)
	}
	return sb.String()
}

// parseCommand splits "/cmd@bot arg" into "/cmd" and "arg".
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}

	command, arg, _ := strings.Cut(text, " ")
	command, _, _ = strings.Cut(command, "@")
	return strings.ToLower(command), strings.TrimSpace(arg)
}

// callbackData encodes a category for an inline button, hashing names that
// would not fit.
func callbackData(category string) string {
	data := callbackTopics + category
	if len(data) <= maxCallbackData {
		return data
	}
	sum := sha256.Sum256([]byte(category))
	return callbackHashed + hex.EncodeToString(sum[:8])
}
