// Package telegram connects the engine to the Telegram Bot API using long
// polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bdobrica/Kioku/internal/kioku/engine"
)

const (
	defaultWorkers  = 4
	pollTimeout     = 60 // seconds, long-poll window
	workerQueueSize = 32

	// maxMessageRunes is Telegram's limit for one text message.
	maxMessageRunes = 4096

	// DefaultGreeting answers /start. It is not stored as chat history.
	DefaultGreeting = "Hi! I'm here. Ask me anything."
)

// Config holds the bot settings.
type Config struct {
	Token    string
	Workers  int
	Greeting string
}

// botAPI is the part of *tgbotapi.BotAPI the transport uses.
type botAPI interface {
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Transport implements engine.Transport for Telegram.
type Transport struct {
	bot      botAPI
	selfID   int64
	workers  int
	greeting string
	logger   *slog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

var _ engine.Transport = (*Transport)(nil)

// New authenticates the bot token and returns a Transport.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	_ = tgbotapi.SetLogger(botLogger{logger})

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	logger.Info("telegram: authorized", "bot", bot.Self.UserName, "bot_id", bot.Self.ID)
	return newTransport(bot, bot.Self.ID, cfg, logger), nil
}

func newTransport(bot botAPI, selfID int64, cfg Config, logger *slog.Logger) *Transport {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		bot:      bot,
		selfID:   selfID,
		workers:  cfg.Workers,
		greeting: cfg.Greeting,
		logger:   logger,
	}
}

// Start begins long polling and hands messages to h from a pool of
// workers. Each chat is pinned to one worker so its messages are handled in
// arrival order.
func (t *Transport) Start(ctx context.Context, h engine.Handler) error {
	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := t.bot.GetUpdatesChan(u)

	queues := make([]chan *tgbotapi.Message, t.workers)
	for i := range queues {
		queues[i] = make(chan *tgbotapi.Message, workerQueueSize)
		t.wg.Add(1)
		go t.worker(ctx, i+1, queues[i], h)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil || update.Message.Chat == nil {
					continue
				}
				q := queues[shard(update.Message.Chat.ID, len(queues))]
				select {
				case q <- update.Message:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	t.logger.Info("telegram: polling started", "workers", t.workers)
	return nil
}

func (t *Transport) worker(ctx context.Context, id int, in <-chan *tgbotapi.Message, h engine.Handler) {
	defer t.wg.Done()
	for msg := range in {
		if ctx.Err() != nil {
			return
		}
		t.dispatch(ctx, msg, h, id)
	}
}

func (t *Transport) dispatch(ctx context.Context, msg *tgbotapi.Message, h engine.Handler, worker int) {
	if msg.IsCommand() && msg.Command() == "start" {
		if err := t.send(msg.Chat.ID, t.greeting); err != nil {
			t.logger.Warn("telegram: greeting failed", "chat_id", msg.Chat.ID, "err", err)
		}
		return
	}

	in, ok := t.inbound(msg)
	if !ok {
		return
	}
	t.logger.Debug("telegram: message received", "worker", worker, "chat_id", in.ChatID, "msg_id", in.MessageID)
	h(ctx, in)
}

// inbound maps a Telegram message to the engine's form. Messages without
// text (stickers, photos, service messages) are skipped.
func (t *Transport) inbound(msg *tgbotapi.Message) (engine.InboundMessage, bool) {
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return engine.InboundMessage{}, false
	}
	if msg.From != nil && msg.From.ID == t.selfID {
		return engine.InboundMessage{}, false
	}

	replyToBot := msg.ReplyToMessage != nil &&
		msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.ID == t.selfID

	return engine.InboundMessage{
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:  strconv.Itoa(msg.MessageID),
		Text:       msg.Text,
		Timestamp:  msg.Time().UTC(),
		ReplyToBot: replyToBot,
	}, true
}

// Send posts text to chatID, splitting it into several messages when it
// exceeds Telegram's length limit.
func (t *Transport) Send(_ context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	for _, part := range splitRunes(text, maxMessageRunes) {
		if err := t.send(id, part); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) send(chatID int64, text string) error {
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Stop ends polling and waits for in-flight handlers to return.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.bot.StopReceivingUpdates()
		t.wg.Wait()
	})
}

func shard(chatID int64, n int) int {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(chatID, 10)))
	return int(h.Sum32() % uint32(n))
}

// splitRunes cuts s into pieces of at most n runes.
func splitRunes(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	parts := make([]string, 0, len(r)/n+1)
	for len(r) > n {
		parts = append(parts, string(r[:n]))
		r = r[n:]
	}
	if len(r) > 0 {
		parts = append(parts, string(r))
	}
	return parts
}

// botLogger routes the library's own log lines into slog.
type botLogger struct{ l *slog.Logger }

func (b botLogger) Println(v ...any) {
	b.l.Warn("telegram: " + strings.TrimSpace(fmt.Sprintln(v...)))
}

func (b botLogger) Printf(format string, v ...any) {
	b.l.Warn("telegram: " + fmt.Sprintf(format, v...))
}
