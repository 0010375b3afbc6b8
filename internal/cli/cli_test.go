package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedpush/internal/cycle"
	"feedpush/internal/model"
	"feedpush/internal/storage"
)

var envKeys = []string{
	"FEEDPUSH_CONFIG", "CRON_SECRET", "DATABASE_PATH", "LOG_LEVEL", "LISTEN_ADDR", "SCHEDULE",
	"LIVE_DUP_GUARD_MINUTES", "VOTE_STABILIZE_MINUTES", "PUSH_TTL_SECONDS", "ENTITY_PAUSE",
	"LIVE_FEED_URL", "VOTE_FEED_URL", "VIDEO_FEED_URL", "VIDEO_FEED_FORMAT",
	"FEED_HTTP_TIMEOUT", "FEED_CACHE_TTL", "PUSH_GATEWAY_URL", "PUSH_GATEWAY_KEY",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_ALERT_CHAT_ID", "OTEL_ENABLED",
}

func setupEnv(t *testing.T) string {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	dbPath := filepath.Join(t.TempDir(), "data", "feedpush.db")
	t.Setenv("DATABASE_PATH", dbPath)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("ENTITY_PAUSE", "0s")
	return dbPath
}

func execute(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func openTestStore(t *testing.T, path string) *storage.SQLite {
	t.Helper()
	store, err := storage.NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	return store
}

func TestTargetsAddAndList(t *testing.T) {
	dbPath := setupEnv(t)

	out, err := execute("targets", "add", "--token", "tok-1", "--platform", "Android",
		"--prefs", `{"pushEnabled":true,"liveEnabled":true,"voteEnabled":false}`)
	if err != nil {
		t.Fatalf("targets add: %v", err)
	}
	if want := "target tok-1 saved (android, live)\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	if _, err := execute("targets", "add", "--token", "tok-2", "--platform", "web", "--disabled"); err != nil {
		t.Fatalf("targets add disabled: %v", err)
	}

	out, err = execute("targets", "list")
	if err != nil {
		t.Fatalf("targets list: %v", err)
	}
	if want := "tok-1\tandroid\tlive\n"; out != want {
		t.Errorf("list = %q, want %q", out, want)
	}

	store := openTestStore(t, dbPath)
	defer store.Close()
	targets, err := store.ListEnabledTargets(context.Background())
	if err != nil {
		t.Fatalf("ListEnabledTargets: %v", err)
	}
	if len(targets) != 1 || targets[0].Token != "tok-1" {
		t.Errorf("targets = %+v, want only tok-1", targets)
	}
}

func TestTargetsAddRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"string boolean", []string{"--token", "t", "--platform", "ios", "--prefs", `{"pushEnabled":"true"}`}},
		{"unknown key", []string{"--token", "t", "--platform", "ios", "--prefs", `{"pushEnabeld":true}`}},
		{"unknown platform", []string{"--token", "t", "--platform", "windows"}},
		{"missing token", []string{"--platform", "ios"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnv(t)
			_, err := execute(append([]string{"targets", "add"}, tt.args...)...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := ExitCode(err); got != ExitCommandError {
				t.Errorf("ExitCode = %d, want %d", got, ExitCommandError)
			}
		})
	}
}

type gatewayRecorder struct {
	mu     sync.Mutex
	tokens []string
	auth   string
}

func (g *gatewayRecorder) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tokens []string `json:"tokens"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.mu.Lock()
	g.tokens = append(g.tokens, req.Tokens...)
	g.auth = r.Header.Get("Authorization")
	g.mu.Unlock()

	resp := struct {
		Responses []map[string]any `json:"responses"`
	}{}
	for range req.Tokens {
		resp.Responses = append(resp.Responses, map[string]any{"success": true})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestRunCommandEndToEnd(t *testing.T) {
	dbPath := setupEnv(t)

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"m1","isLive":true},{"id":"m2","isLive":true,"title":"Second"},{"id":"m3","isLive":false}]`))
	}))
	defer feed.Close()

	gw := &gatewayRecorder{}
	gateway := httptest.NewServer(http.HandlerFunc(gw.handler))
	defer gateway.Close()

	t.Setenv("LIVE_FEED_URL", feed.URL)
	t.Setenv("PUSH_GATEWAY_URL", gateway.URL)
	t.Setenv("PUSH_GATEWAY_KEY", "gw-key")

	store := openTestStore(t, dbPath)
	ctx := context.Background()
	seed := model.NewFeedState(model.FeedLive)
	seed.Status = model.StatusActive
	seed.Identity = []string{"m1"}
	if err := store.PutFeedState(ctx, &seed); err != nil {
		t.Fatalf("PutFeedState: %v", err)
	}
	target := model.PushTarget{
		Token:    "device-1",
		Platform: model.PlatformAndroid,
		Enabled:  true,
		Prefs:    model.Prefs{Push: model.Bool(true), Live: model.Bool(true)},
	}
	if err := store.UpsertTarget(ctx, &target); err != nil {
		t.Fatalf("UpsertTarget: %v", err)
	}
	_ = store.Close()

	out, err := execute("run", "--timeout", "30s")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}

	var rep cycle.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if !rep.OK || rep.RunID == "" {
		t.Errorf("report ok=%v runId=%q, want ok with a run id", rep.OK, rep.RunID)
	}
	if len(rep.Results) != 1 {
		t.Fatalf("results = %+v, want 1", rep.Results)
	}
	if got := rep.Results[0]; got.Category != model.CategoryLive || got.EntityID != "m2" || got.Sent != 1 {
		t.Errorf("result = %+v, want live m2 sent=1", got)
	}

	gw.mu.Lock()
	if diff := cmp.Diff([]string{"device-1"}, gw.tokens); diff != "" {
		t.Errorf("gateway tokens mismatch (-want +got):\n%s", diff)
	}
	if gw.auth != "Bearer gw-key" {
		t.Errorf("gateway auth = %q", gw.auth)
	}
	gw.mu.Unlock()

	store = openTestStore(t, dbPath)
	defer store.Close()
	st, err := store.GetFeedState(ctx, model.FeedLive)
	if err != nil {
		t.Fatalf("GetFeedState: %v", err)
	}
	if diff := cmp.Diff([]string{"m1", "m2"}, st.Identity); diff != "" {
		t.Errorf("committed identity mismatch (-want +got):\n%s", diff)
	}
	if _, ok := st.Aux["m2"]; !ok {
		t.Errorf("aux = %v, want a stamp for m2", st.Aux)
	}
}

func TestRunCommandRequiresGateway(t *testing.T) {
	setupEnv(t)

	_, err := execute("run")
	if err == nil {
		t.Fatal("expected error without PUSH_GATEWAY_URL")
	}
	if got := ExitCode(err); got != ExitCommandError {
		t.Errorf("ExitCode = %d, want %d", got, ExitCommandError)
	}
	if !strings.Contains(err.Error(), "PUSH_GATEWAY_URL") {
		t.Errorf("error = %q, want it to name PUSH_GATEWAY_URL", err)
	}
}

func TestRunCommandInvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("LIVE_DUP_GUARD_MINUTES", "soon")

	_, err := execute("run")
	if got := ExitCode(err); got != ExitCommandError {
		t.Errorf("ExitCode = %d, want %d (err=%v)", got, ExitCommandError, err)
	}
}

func TestExitCode(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", cause, ExitCommandError},
		{"failure", WrapExitError(ExitFailure, "cycle failed", cause), ExitFailure},
		{"wrapped", errors.Join(WrapExitError(ExitFailure, "cycle failed", cause)), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	setupEnv(t)

	out, err := execute("migrate", "--db", dbPath, "up")
	if err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out, "00002_push_targets.sql") {
		t.Errorf("up output = %q, want the applied migrations", out)
	}

	out, err = execute("migrate", "--db", dbPath, "version")
	if err != nil {
		t.Fatalf("migrate version: %v", err)
	}
	if out != "version 2\n" {
		t.Errorf("version output = %q", out)
	}

	if _, err := execute("migrate", "--db", dbPath, "sideways"); ExitCode(err) != ExitCommandError {
		t.Errorf("unknown action: err = %v, want a command error", err)
	}
}

func TestGoWithContextWaitsForReturn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var finished atomic.Bool
	wait := goWithContext(ctx, func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	cancel()
	wait()
	if !finished.Load() {
		t.Error("wait returned before the goroutine finished")
	}
}
