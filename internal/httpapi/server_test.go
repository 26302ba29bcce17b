package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/httpapi"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/notify"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/service"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store/memory"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

type fakeSource struct {
	mu     sync.Mutex
	tokens []types.Token
	err    error
}

func (f *fakeSource) set(toks []types.Token, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens, f.err = toks, err
}

func (f *fakeSource) FetchTokens(context.Context) ([]types.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Token(nil), f.tokens...), f.err
}

// countingSubscriber stands in for the site broadcast: it counts calls and
// fails every one of them.
type countingSubscriber struct {
	calls atomic.Int32
}

func (c *countingSubscriber) OnChange(context.Context) error {
	c.calls.Add(1)
	return errors.New("broker unreachable")
}

type fixture struct {
	ts        *httptest.Server
	broadcast *countingSubscriber
	source  *fakeSource
	opener  *service.TimedOpener
	events  *memory.AccessEventStore
	history *notify.History
	sink    *notify.Memory
}

// newTestServer wires the control API over an in-memory dependency graph.
// The cache starts with the given tokens.
func newTestServer(t *testing.T, cached ...string) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		source: &fakeSource{},
		opener: service.NewTimedOpener(time.Minute, nil, logger),
		events: memory.NewAccessEventStore(),
		sink:   &notify.Memory{},

		broadcast: &countingSubscriber{},
	}
	f.history = notify.NewHistory(f.sink, 10)

	toks := make([]types.Token, 0, len(cached))
	for _, id := range cached {
		toks = append(toks, types.NewAuthorized(types.Identifier(id)))
	}
	f.source.set(toks, nil)

	cache := service.NewAuthCache()
	agent := service.NewSyncAgent(f.source, cache, service.SyncConfig{DoorID: "door_main", Interval: -1}, logger)
	if err := agent.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	signal := service.NewSignal("credentials", service.Sequential, logger)
	for _, sub := range []service.Subscriber{agent, f.broadcast} {
		if err := signal.Subscribe(sub); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logger,
		Addr:          ":0",
		AccessService: service.NewAccessService("door_main", cache, f.opener, f.events, logger),
		Opener:        f.opener,
		Sync:          agent,
		Status:        agent,
		Logs:          f.history,
	})

	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// ── Access ───────────────────────────────────────────────────────────────────

func TestAccessRequest_CachedToken_Granted(t *testing.T) {
	f := newTestServer(t, "tok1")

	resp := postJSON(t, f.ts.URL+"/v1/access_request", `{"module_id":"scanner-1","card_id":"tok1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ar := decode[types.AccessResponse](t, resp)
	if !ar.Granted || !ar.Opened {
		t.Errorf("expected granted and opened, got %+v", ar)
	}
	if ar.Reason != service.ReasonTokenValid {
		t.Errorf("reason = %q", ar.Reason)
	}
	if !f.opener.IsOpen() {
		t.Error("door should be open")
	}
	if n := len(f.events.Events()); n != 1 {
		t.Errorf("expected 1 audit event, got %d", n)
	}
}

func TestAccessRequest_UnknownToken_Denied(t *testing.T) {
	f := newTestServer(t, "tok1")

	resp := postJSON(t, f.ts.URL+"/v1/access_request", `{"module_id":"scanner-1","card_id":"tok9"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ar := decode[types.AccessResponse](t, resp)
	if ar.Granted || ar.Opened {
		t.Errorf("expected denial, got %+v", ar)
	}
	if f.opener.Opens() != 0 {
		t.Error("door must stay closed")
	}
}

func TestAccessRequest_MissingCardID_400(t *testing.T) {
	f := newTestServer(t)

	resp := postJSON(t, f.ts.URL+"/v1/access_request", `{"module_id":"scanner-1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["error"] != "invalid_card_id" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestAccessRequest_InvalidJSON_400(t *testing.T) {
	f := newTestServer(t)

	resp := postJSON(t, f.ts.URL+"/v1/access_request", `{"module_id":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAccessRequest_Protobuf(t *testing.T) {
	f := newTestServer(t, "tok1")

	req, err := structpb.NewStruct(map[string]any{"module_id": "scanner-1", "card_id": "tok1"})
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	body, err := proto.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := http.Post(f.ts.URL+"/v1/access_request", "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("content type = %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.GetFields()["granted"].GetBoolValue() {
		t.Errorf("expected granted=true, got %v", out.AsMap())
	}
}

// ── Door and sync ────────────────────────────────────────────────────────────

func TestDoorOpen(t *testing.T) {
	f := newTestServer(t)

	resp := postJSON(t, f.ts.URL+"/v1/door/open", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if f.opener.Opens() != 1 {
		t.Errorf("opens = %d, want 1", f.opener.Opens())
	}
}

func TestSync_PicksUpNewTokens(t *testing.T) {
	f := newTestServer(t, "tok1")
	f.source.set([]types.Token{types.NewAuthorized("tok2")}, nil)

	resp := postJSON(t, f.ts.URL+"/v1/sync", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	st := decode[types.DoorStatus](t, resp)
	if st.CachedTokens != 1 || st.LastSyncError != "" {
		t.Errorf("unexpected status %+v", st)
	}

	resp = postJSON(t, f.ts.URL+"/v1/access_request", `{"module_id":"s","card_id":"tok1"}`)
	if decode[types.AccessResponse](t, resp).Granted {
		t.Error("tok1 was removed by the sync")
	}
}

func TestSync_RefreshesWithoutBroadcast(t *testing.T) {
	f := newTestServer(t, "tok1")
	f.source.set([]types.Token{types.NewAuthorized("tok1"), types.NewAuthorized("tok2")}, nil)

	resp := postJSON(t, f.ts.URL+"/v1/sync", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	st := decode[types.DoorStatus](t, resp)
	if st.CachedTokens != 2 || st.LastSyncError != "" {
		t.Errorf("unexpected status %+v", st)
	}
	if n := f.broadcast.calls.Load(); n != 0 {
		t.Errorf("change broadcast fired %d times on a manual sync", n)
	}
}

func TestSync_FailureKeepsCache(t *testing.T) {
	f := newTestServer(t, "tok1")
	f.source.set(nil, errors.New("gateway unreachable"))

	resp := postJSON(t, f.ts.URL+"/v1/sync", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	st := decode[types.DoorStatus](t, resp)
	if st.CachedTokens != 1 || st.LastSyncError == "" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestStatus(t *testing.T) {
	f := newTestServer(t, "tok1", "tok2")

	resp, err := http.Get(f.ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	st := decode[types.DoorStatus](t, resp)
	if st.DoorID != "door_main" || st.CachedTokens != 2 || st.LastSync == "" {
		t.Errorf("unexpected status %+v", st)
	}
}

// ── Notifications ────────────────────────────────────────────────────────────

func TestLogs_ListAndClear(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()
	_ = f.history.Notify(ctx, notify.Message{Level: notify.LevelError, Text: "a"})
	_ = f.history.Notify(ctx, notify.Message{Level: notify.LevelError, Text: "b"})
	_ = f.history.Notify(ctx, notify.Message{Level: notify.LevelInfo, Text: "c"})

	resp, err := http.Get(f.ts.URL + "/v1/logs/error")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if msgs := decode[[]notify.Message](t, resp); len(msgs) != 2 {
		t.Fatalf("expected 2 error messages, got %d", len(msgs))
	}

	resp = postJSON(t, f.ts.URL+"/v1/logs/error/clear", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decode[map[string]any](t, resp); body["cleared"] != float64(2) {
		t.Errorf("cleared = %v", body["cleared"])
	}
	if got := f.sink.Cleared(); len(got) != 1 || got[0] != notify.LevelError {
		t.Errorf("sink cleared = %v", got)
	}
	if n := len(f.history.Recent(notify.LevelInfo)); n != 1 {
		t.Errorf("info history should be untouched, got %d", n)
	}
}

func TestLogs_UnknownLevel_400(t *testing.T) {
	f := newTestServer(t)

	resp := postJSON(t, f.ts.URL+"/v1/logs/debug/clear", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
