package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Kioku/common/retry"
	"github.com/bdobrica/Kioku/internal/kioku/humor"
	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/maintenance"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/session"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// fixedNow is a Wednesday, so the scheduler never vacuums in these tests.
var fixedNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

// fakeProvider records every call and answers with reply or err.
type fakeProvider struct {
	mu     sync.Mutex
	reply  string
	err    error
	system []string
	turns  [][]llm.Message
}

func (f *fakeProvider) Generate(_ context.Context, system string, history []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, system)
	f.turns = append(f.turns, history)
	return f.reply, f.err
}

// flakyStore fails the first n AddMessage calls.
type flakyStore struct {
	*store.Store
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyStore) AddMessage(ctx context.Context, m store.Message) error {
	f.mu.Lock()
	f.calls++
	fail := f.fails > 0
	if fail {
		f.fails--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return f.Store.AddMessage(ctx, m)
}

type testEnv struct {
	store    *store.Store
	provider *fakeProvider
	engine   *Engine
}

func newTestEnv(t *testing.T, cfg Config, wrap func(*store.Store) Store) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "kioku-test.db"),
		store.WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	var es Store = st
	if wrap != nil {
		es = wrap(st)
	}

	p := &fakeProvider{reply: "sure thing"}
	e := New(cfg,
		es,
		maintenance.New(st, maintenance.DefaultConfig(), nil),
		memory.NewAssembler(st, memory.ContextConfig{SystemPrompt: "PROMPT"}),
		p,
		nil,
		nil,
	)
	e.ambient.Rand = fixedRand(0)
	e.direct.Rand = fixedRand(0)
	e.retry = retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}
	return &testEnv{store: st, provider: p, engine: e}
}

// noHumor keeps the gates closed.
func noHumor() Config {
	cfg := DefaultConfig()
	cfg.Ambient.Rate = 0
	cfg.Direct.Rate = 0
	return cfg
}

// alwaysHumor opens the gates on every eligible message.
func alwaysHumor() Config {
	open := humor.Config{Rate: 1, MinLength: 1, MaxLength: 600}
	cfg := DefaultConfig()
	cfg.Ambient = open
	cfg.Direct = open
	return cfg
}

func TestHandleMessage_StoresBothTurns(t *testing.T) {
	env := newTestEnv(t, noHumor(), nil)
	ctx := context.Background()

	reply, err := env.engine.HandleMessage(ctx, InboundMessage{ChatID: "chat1", MessageID: "42", Text: "  hello there  "})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "sure thing" {
		t.Errorf("reply: got %q", reply)
	}

	msgs, err := env.store.RecentMessages(ctx, "chat1", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(msgs))
	}
	if msgs[0].MessageID != "42" || msgs[0].Role != store.RoleUser || msgs[0].Text != "hello there" {
		t.Errorf("user row: got %+v", msgs[0])
	}
	if msgs[1].MessageID != "42:assistant" || msgs[1].Role != store.RoleAssistant || msgs[1].Text != "sure thing" {
		t.Errorf("assistant row: got %+v", msgs[1])
	}
}

func TestHandleMessage_CurrentTurnAppearsOnce(t *testing.T) {
	env := newTestEnv(t, noHumor(), nil)
	ctx := context.Background()

	for i, text := range []string{"first", "second"} {
		in := InboundMessage{ChatID: "c", MessageID: string(rune('a' + i)), Text: text}
		if _, err := env.engine.HandleMessage(ctx, in); err != nil {
			t.Fatalf("HandleMessage(%q): %v", text, err)
		}
	}

	got := env.provider.turns[1]
	want := []llm.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "sure thing"},
		{Role: "user", Content: "second"},
	}
	if len(got) != len(want) {
		t.Fatalf("history: got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d]: got %+v, want %+v", i, got[i], want[i])
		}
	}
	if env.provider.system[1] != "PROMPT" {
		t.Errorf("system: got %q", env.provider.system[1])
	}
}

func TestHandleMessage_InputPolicy(t *testing.T) {
	env := newTestEnv(t, noHumor(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want error
	}{
		{name: "empty", text: "", want: ErrEmptyMessage},
		{name: "whitespace", text: " \n\t ", want: ErrEmptyMessage},
		{name: "too long", text: strings.Repeat("a", DefaultMaxInputChars+1), want: ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.HandleMessage(ctx, InboundMessage{ChatID: "c", MessageID: "1", Text: tt.text})
			if !errors.Is(err, tt.want) {
				t.Errorf("error: got %v, want %v", err, tt.want)
			}
		})
	}

	if n, _ := env.store.MessageCount(ctx, "c"); n != 0 {
		t.Errorf("rejected messages were stored: %d rows", n)
	}
	if len(env.provider.turns) != 0 {
		t.Errorf("backend called for rejected input")
	}
}

func TestHandleMessage_BackendFailureStoresNoReply(t *testing.T) {
	env := newTestEnv(t, alwaysHumor(), nil)
	env.provider.err = llm.ErrRateLimit
	ctx := context.Background()

	_, err := env.engine.HandleMessage(ctx, InboundMessage{ChatID: "c", MessageID: "7", Text: "are you there?"})
	if !errors.Is(err, ErrNoReply) || !errors.Is(err, llm.ErrRateLimit) {
		t.Fatalf("error: got %v, want ErrNoReply wrapping ErrRateLimit", err)
	}

	msgs, _ := env.store.RecentMessages(ctx, "c", 10)
	if len(msgs) != 1 || msgs[0].Role != store.RoleUser {
		t.Fatalf("expected only the user row, got %+v", msgs)
	}

	st, _ := env.engine.Sessions().Snapshot("c")
	if !st.LastHumor.IsZero() || st.JokesToday != 0 {
		t.Errorf("humor recorded for a failed turn: %+v", st)
	}
}

func TestHandleMessage_DailyJokeCap(t *testing.T) {
	env := newTestEnv(t, alwaysHumor(), nil)
	ctx := context.Background()

	for i := 0; i < DefaultDailyJokeCap+2; i++ {
		in := InboundMessage{ChatID: "c", MessageID: string(rune('a' + i)), Text: "tell me something"}
		if _, err := env.engine.HandleMessage(ctx, in); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	var hinted int
	for _, s := range env.provider.system {
		if strings.Contains(s, humorHint) {
			hinted++
		}
	}
	if hinted != DefaultDailyJokeCap {
		t.Errorf("humor turns: got %d, want %d", hinted, DefaultDailyJokeCap)
	}

	st, _ := env.engine.Sessions().Snapshot("c")
	if st.JokesToday != DefaultDailyJokeCap {
		t.Errorf("JokesToday: got %d", st.JokesToday)
	}
	if !st.LastHumor.Equal(fixedNow) {
		t.Errorf("LastHumor: got %v, want %v", st.LastHumor, fixedNow)
	}
}

func TestHandleMessage_DirectModeIgnoresCap(t *testing.T) {
	env := newTestEnv(t, alwaysHumor(), nil)
	ctx := context.Background()

	_ = env.engine.Sessions().With("c", func(st *session.State) error {
		st.JokesToday = DefaultDailyJokeCap
		st.JokesDay = store.DayOf(fixedNow)
		return nil
	})

	if _, err := env.engine.HandleMessage(ctx, InboundMessage{ChatID: "c", MessageID: "1", Text: "lol ok", ReplyToBot: true}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(env.provider.system[0], humorHint) {
		t.Error("expected humor hint for a direct reply past the ambient cap")
	}

	st, _ := env.engine.Sessions().Snapshot("c")
	if st.JokesToday != DefaultDailyJokeCap {
		t.Errorf("direct humor counted against the ambient cap: %d", st.JokesToday)
	}
}

func TestHandleMessage_StoreFailureDoesNotAbortTurn(t *testing.T) {
	var flaky *flakyStore
	env := newTestEnv(t, noHumor(), func(st *store.Store) Store {
		flaky = &flakyStore{Store: st, fails: 2}
		return flaky
	})
	ctx := context.Background()

	reply, err := env.engine.HandleMessage(ctx, InboundMessage{ChatID: "c", MessageID: "1", Text: "still there?"})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "sure thing" {
		t.Errorf("reply: got %q", reply)
	}

	// user write: two failed attempts; assistant write: first attempt succeeds
	if flaky.calls != 3 {
		t.Errorf("AddMessage calls: got %d, want 3", flaky.calls)
	}
	msgs, _ := env.store.RecentMessages(ctx, "c", 10)
	if len(msgs) != 1 || msgs[0].MessageID != "1:assistant" {
		t.Errorf("stored rows: got %+v", msgs)
	}
}

func TestHandleMessage_GeneratesMissingID(t *testing.T) {
	env := newTestEnv(t, noHumor(), nil)
	ctx := context.Background()

	if _, err := env.engine.HandleMessage(ctx, InboundMessage{ChatID: "c", Text: "no id here"}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	msgs, _ := env.store.RecentMessages(ctx, "c", 10)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(msgs))
	}
	if msgs[0].MessageID == "" || msgs[1].MessageID != msgs[0].MessageID+":assistant" {
		t.Errorf("ids: user %q, assistant %q", msgs[0].MessageID, msgs[1].MessageID)
	}
}

func TestHandleMessage_ChatsAreIsolated(t *testing.T) {
	env := newTestEnv(t, noHumor(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, chat := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				in := InboundMessage{ChatID: chat, MessageID: string(rune('0' + i)), Text: "ping " + chat}
				if _, err := env.engine.HandleMessage(ctx, in); err != nil {
					t.Errorf("chat %s turn %d: %v", chat, i, err)
				}
			}
		}()
	}
	wg.Wait()

	for _, chat := range []string{"a", "b", "c", "d"} {
		if n, _ := env.store.MessageCount(ctx, chat); n != 10 {
			t.Errorf("chat %s: got %d rows, want 10", chat, n)
		}
	}
	if env.engine.Sessions().Len() != 4 {
		t.Errorf("sessions: got %d, want 4", env.engine.Sessions().Len())
	}
}
