// Package matrix connects the engine to Matrix rooms through mautrix.
//
// End-to-end encryption is not supported; the bot should only be invited
// to unencrypted rooms.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Kioku/common/retry"
	"github.com/bdobrica/Kioku/internal/kioku/engine"
)

const (
	backoffMin = 2 * time.Second
	backoffMax = 5 * time.Minute

	sentCapacity = 512
)

// Config holds the bot's Matrix login and the rooms it serves.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Rooms       []string
}

// Transport implements engine.Transport for Matrix.
type Transport struct {
	client *mautrix.Client
	cfg    Config
	rooms  map[id.RoomID]struct{}
	sent   *sentSet
	logger *slog.Logger

	handler engine.Handler

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var _ engine.Transport = (*Transport)(nil)

// New creates a Matrix transport. When state is nil the sync position is
// kept in memory and room history replays on every restart.
func New(cfg Config, state SyncState, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	if state != nil {
		client.Store = &syncStore{state: state}
	} else {
		logger.Warn("matrix: no sync state store, history will replay on restart")
	}

	return newTransport(client, cfg, logger), nil
}

func newTransport(client *mautrix.Client, cfg Config, logger *slog.Logger) *Transport {
	rooms := make(map[id.RoomID]struct{}, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		rooms[id.RoomID(strings.TrimSpace(r))] = struct{}{}
	}
	return &Transport{
		client: client,
		cfg:    cfg,
		rooms:  rooms,
		sent:   newSentSet(sentCapacity),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start joins the configured rooms and begins syncing in the background.
// A failed sync is retried with exponential backoff until Stop is called.
func (t *Transport) Start(ctx context.Context, h engine.Handler) error {
	t.handler = h
	ctx, t.cancel = context.WithCancel(ctx)

	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnSync(t.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, t.handleEvent)

	for roomID := range t.rooms {
		if err := t.joinRoom(ctx, roomID); err != nil {
			return fmt.Errorf("matrix: join %s: %w", roomID, err)
		}
	}

	go t.syncLoop(ctx)
	t.logger.Info("matrix: sync started", "user_id", t.cfg.UserID, "rooms", len(t.rooms))
	return nil
}

func (t *Transport) syncLoop(ctx context.Context) {
	defer close(t.done)

	b := retry.NewBackoff(backoffMin, backoffMax)
	for {
		started := time.Now()
		err := t.client.SyncWithContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		// A sync that ran for a while before failing was healthy.
		if time.Since(started) > backoffMax {
			b.Reset()
		}
		delay := b.Next()
		t.logger.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", delay)
		if retry.Sleep(ctx, delay) != nil {
			return
		}
	}
}

// Send posts text to a room and remembers the event ID for reply detection.
func (t *Transport) Send(ctx context.Context, chatID, text string) error {
	resp, err := t.client.SendText(ctx, id.RoomID(chatID), text)
	if err != nil {
		return fmt.Errorf("matrix: send message: %w", err)
	}
	t.sent.Add(resp.EventID.String())
	return nil
}

// Stop ends the sync loop and waits for it to exit.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() {
		if t.cancel == nil {
			return
		}
		t.cancel()
		t.client.StopSync()
		<-t.done
	})
}

func (t *Transport) handleEvent(ctx context.Context, evt *event.Event) {
	in, ok := t.inbound(evt)
	if !ok || t.handler == nil {
		return
	}
	t.handler(ctx, in)
}

// inbound maps a room message event to the engine's form. Own messages,
// non-text messages and rooms outside the configured set are skipped.
func (t *Transport) inbound(evt *event.Event) (engine.InboundMessage, bool) {
	if evt.Sender == id.UserID(t.cfg.UserID) {
		return engine.InboundMessage{}, false
	}
	if _, ok := t.rooms[evt.RoomID]; !ok {
		return engine.InboundMessage{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return engine.InboundMessage{}, false
	}

	var replyTo id.EventID
	if rel := content.RelatesTo; rel != nil && rel.InReplyTo != nil {
		replyTo = rel.InReplyTo.EventID
	}
	body := content.Body
	if replyTo != "" {
		body = stripReplyFallback(body)
	}
	if strings.TrimSpace(body) == "" {
		return engine.InboundMessage{}, false
	}

	return engine.InboundMessage{
		ChatID:     evt.RoomID.String(),
		MessageID:  evt.ID.String(),
		Text:       body,
		Timestamp:  time.UnixMilli(evt.Timestamp).UTC(),
		ReplyToBot: replyTo != "" && t.sent.Has(replyTo.String()),
	}, true
}

// stripReplyFallback removes the quoted "> " block some clients prepend to
// replies.
func stripReplyFallback(body string) string {
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i == 0 {
		return body
	}
	return strings.TrimLeft(strings.Join(lines[i:], "\n"), "\n")
}

func (t *Transport) joinRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := t.client.JoinRoomByID(ctx, roomID); err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			t.logger.Warn("matrix: join refused, assuming membership", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
