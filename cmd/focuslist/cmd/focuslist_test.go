package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"focuslist/backend"
	"focuslist/backend/local"
	"focuslist/internal/assistant"
	"focuslist/internal/controller"
	"focuslist/internal/credentials"
	"focuslist/internal/utils"
)

// =============================================================================
// Core CLI Tests
// Task command tests against the real local store live in backend/local.
// =============================================================================

const testJWTSecret = "test-secret"

// newTestConfig returns an isolated config using the local store and an
// in-memory keyring
func newTestConfig(t *testing.T, yaml string) *Config {
	t.Helper()
	t.Setenv("FOCUSLIST_SESSION_TOKEN", "")
	t.Setenv("FOCUSLIST_BACKEND", "")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if yaml == "" {
		yaml = "default_backend: local\n"
	}
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}

	noDelay := time.Duration(0)
	return &Config{
		NoPrompt:       true,
		ConfigPath:     configPath,
		LocalPath:      filepath.Join(tmpDir, "data", "local.db"),
		Keyring:        credentials.NewMockKeyring(),
		AssistantDelay: &noDelay,
	}
}

func run(cfg *Config, args ...string) (string, string, int) {
	var stdout, stderr bytes.Buffer
	code := Execute(args, &stdout, &stderr, cfg)
	return stdout.String(), stderr.String(), code
}

func mustRun(t *testing.T, cfg *Config, args ...string) string {
	t.Helper()
	stdout, stderr, code := run(cfg, args...)
	if code != 0 {
		t.Fatalf("%v: expected exit code 0, got %d: stdout=%s stderr=%s", args, code, stdout, stderr)
	}
	return stdout
}

// --- Help and Version Tests ---

func TestHelpFlagCoreCLI(t *testing.T) {
	stdout, stderr, code := run(nil, "--help")
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "focuslist") || !strings.Contains(stdout, "Usage:") {
		t.Errorf("help output should contain usage, got: %s", stdout)
	}
	for _, sub := range []string{"login", "list", "add", "toggle", "rm", "tui", "serve", "chat"} {
		if !strings.Contains(stdout, sub) {
			t.Errorf("help output should list %q", sub)
		}
	}
}

func TestVersionFlagCoreCLI(t *testing.T) {
	stdout, _, code := run(nil, "--version")
	if code != 0 || !strings.Contains(stdout, "focuslist") {
		t.Errorf("--version = %d %q", code, stdout)
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, code := run(nil, "version")
	if code != 0 || !strings.Contains(stdout, "focuslist "+Version) {
		t.Errorf("version = %d %q", code, stdout)
	}

	stdout, _, code = run(nil, "--json", "version")
	var result map[string]string
	if code != 0 || json.Unmarshal([]byte(stdout), &result) != nil || result["version"] != Version {
		t.Errorf("--json version = %d %q", code, stdout)
	}
}

// --- Config Tests ---

func TestUnknownBackendFlag(t *testing.T) {
	cfg := newTestConfig(t, "")
	_, stderr, code := run(cfg, "-b", "dropbox", "list")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr, "unknown default_backend") {
		t.Errorf("stderr should name the bad backend, got: %s", stderr)
	}
}

func TestRemoteBackendRequiresLogin(t *testing.T) {
	cfg := newTestConfig(t, "default_backend: postgres\nbackends:\n  postgres:\n    url: postgres://localhost/none\nauth:\n  jwt_secret: "+testJWTSecret+"\n")
	stdout, stderr, code := run(cfg, "list")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr, "not logged in") || !strings.Contains(stderr, "focuslist login") {
		t.Errorf("stderr should suggest logging in, got: %s", stderr)
	}
	if !strings.Contains(stdout, ResultError) {
		t.Errorf("stdout should end with %s, got: %s", ResultError, stdout)
	}
}

// --- Task Command Tests ---

func TestListEmpty(t *testing.T) {
	cfg := newTestConfig(t, "")
	stdout := mustRun(t, cfg, "list")
	for _, want := range []string{"No tasks found", "0 tasks remaining", ResultInfoOnly} {
		if !strings.Contains(stdout, want) {
			t.Errorf("list output should contain %q, got: %s", want, stdout)
		}
	}
}

func TestAddBlankTextFails(t *testing.T) {
	cfg := newTestConfig(t, "")
	_, stderr, code := run(cfg, "add", "   ")
	if code != 1 || !strings.Contains(stderr, "task text is empty") {
		t.Errorf("add blank = %d %q", code, stderr)
	}
}

func TestRemovePromptCancelled(t *testing.T) {
	cfg := newTestConfig(t, "")
	mustRun(t, cfg, "add", "Keep me")

	cfg.NoPrompt = false
	cfg.Stdin = strings.NewReader("n\n")
	stdout, stderr, code := run(cfg, "rm", "#1")
	if code != 0 {
		t.Fatalf("rm exit code %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Cancelled") {
		t.Errorf("rm should report cancel, got: %s", stdout)
	}
	if !strings.Contains(stderr, `Delete task "Keep me"? [y/N]`) {
		t.Errorf("rm should prompt on stderr, got: %s", stderr)
	}

	cfg.Stdin = strings.NewReader("y\n")
	stdout = mustRun(t, cfg, "rm", "#1")
	if !strings.Contains(stdout, "Deleted task: Keep me") {
		t.Errorf("rm confirmed output = %q", stdout)
	}
}

func TestJSONErrorOutput(t *testing.T) {
	cfg := newTestConfig(t, "")
	stdout, _, code := run(cfg, "--json", "toggle", "#9")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	var resp errorResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("expected JSON error, got %q: %v", stdout, err)
	}
	if resp.Result != ResultError || resp.Code != 1 || !strings.Contains(resp.Error, "task not found: #9") {
		t.Errorf("error response = %+v", resp)
	}
	if !strings.Contains(resp.Suggestion, "focuslist list") {
		t.Errorf("error response should carry the suggestion, got %+v", resp)
	}
}

// --- Session Tests ---

// activityStore is a local store that records session activity and
// survives Close so it can be shared by several commands
type activityStore struct {
	*local.Backend
	mu         sync.Mutex
	activities []backend.Activity
}

func newActivityStore(t *testing.T) *activityStore {
	t.Helper()
	be, err := local.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = be.Close() })
	return &activityStore{Backend: be}
}

func (s *activityStore) LogActivity(_ context.Context, a backend.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, a)
	return nil
}

func (s *activityStore) Close() error { return nil }

func (s *activityStore) kinds() []backend.ActivityKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []backend.ActivityKind
	for _, a := range s.activities {
		out = append(out, a.Kind)
	}
	return out
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestLoginWithTokenWhoamiLogout(t *testing.T) {
	cfg := newTestConfig(t, "default_backend: local\nauth:\n  jwt_secret: "+testJWTSecret+"\n")
	store := newActivityStore(t)
	cfg.Store = store

	token := signToken(t, jwt.MapClaims{
		"sub":           "user-1",
		"email":         "ada@example.com",
		"user_metadata": map[string]string{"full_name": "Ada Lovelace"},
		"exp":           time.Now().Add(time.Hour).Unix(),
	})

	stdout := mustRun(t, cfg, "login", "--token", token)
	if !strings.Contains(stdout, "Logged in as Ada Lovelace <ada@example.com>") {
		t.Errorf("login output = %q", stdout)
	}

	stdout = mustRun(t, cfg, "whoami")
	if !strings.Contains(stdout, "Ada Lovelace <ada@example.com> (jwt)") {
		t.Errorf("whoami output = %q", stdout)
	}

	// Tasks are scoped to the signed-in owner
	mustRun(t, cfg, "add", "Owned task")
	tasks, err := store.List(context.Background(), "ada@example.com")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("owner tasks = %v, %v", tasks, err)
	}

	stdout = mustRun(t, cfg, "logout")
	if !strings.Contains(stdout, "Logged out") {
		t.Errorf("logout output = %q", stdout)
	}

	kinds := store.kinds()
	if len(kinds) != 2 || kinds[0] != backend.ActivityLogin || kinds[1] != backend.ActivityLogout {
		t.Errorf("activities = %v, want LOGIN then LOGOUT", kinds)
	}

	_, stderr, code := run(cfg, "whoami")
	if code != 1 || !strings.Contains(stderr, "not logged in") {
		t.Errorf("whoami after logout = %d %q", code, stderr)
	}
}

func TestLoginWithBadToken(t *testing.T) {
	cfg := newTestConfig(t, "default_backend: local\nauth:\n  jwt_secret: "+testJWTSecret+"\n")
	_, stderr, code := run(cfg, "login", "--token", "not-a-jwt")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr, "authentication failed for jwt") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestLoginWithoutGoogleClient(t *testing.T) {
	cfg := newTestConfig(t, "")
	_, stderr, code := run(cfg, "login")
	if code != 1 || !strings.Contains(stderr, "google sign-in is not configured") {
		t.Errorf("login = %d %q", code, stderr)
	}
}

func TestWhoamiJSON(t *testing.T) {
	cfg := newTestConfig(t, "default_backend: local\nauth:\n  jwt_secret: "+testJWTSecret+"\n")
	token := signToken(t, jwt.MapClaims{"sub": "user-2", "exp": time.Now().Add(time.Hour).Unix()})
	mustRun(t, cfg, "login", "--token", token)

	stdout := mustRun(t, cfg, "--json", "whoami")
	var result map[string]string
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if result["owner"] != "user-2" || result["provider"] != "jwt" || result["result"] != ResultInfoOnly {
		t.Errorf("whoami JSON = %v", result)
	}
}

// --- Chat Tests ---

func TestChatFocusOneShot(t *testing.T) {
	cfg := newTestConfig(t, "")
	mustRun(t, cfg, "add", "Write report")

	stdout := mustRun(t, cfg, "chat", "What", "should", "I", "do", "next?")
	if !strings.Contains(stdout, "Write report") {
		t.Errorf("chat reply should name the next task, got: %s", stdout)
	}
}

func TestChatSarcasticOneShot(t *testing.T) {
	cfg := newTestConfig(t, "")
	stdout := mustRun(t, cfg, "chat", "--bot", "sarcastic", "help me")

	reply := strings.TrimSpace(stdout)
	found := false
	for _, r := range assistant.SarcasticResponses {
		if reply == r {
			found = true
		}
	}
	if !found {
		t.Errorf("reply %q is not a canned response", reply)
	}
}

func TestChatInteractive(t *testing.T) {
	cfg := newTestConfig(t, "")
	mustRun(t, cfg, "add", "Buy milk")

	cfg.Stdin = strings.NewReader("how many tasks?\n\nexit\nnever read\n")
	stdout := mustRun(t, cfg, "chat")
	if !strings.Contains(stdout, "Hello there! I am your Focus AI.") {
		t.Errorf("chat should greet first, got: %s", stdout)
	}
	if !strings.Contains(stdout, "You have 1 total tasks") {
		t.Errorf("chat should answer the summary question, got: %s", stdout)
	}
}

func TestChatUnknownBot(t *testing.T) {
	cfg := newTestConfig(t, "")
	_, stderr, code := run(cfg, "chat", "--bot", "grumpy", "hi")
	if code != 1 || !strings.Contains(stderr, "unknown assistant") {
		t.Errorf("chat --bot grumpy = %d %q", code, stderr)
	}
}

// --- Helper Tests ---

func TestParseCode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{"bare code", " 4/abc ", "4/abc", ""},
		{"redirect url", "http://localhost:8085/callback?state=s1&code=4%2Fxyz", "4/xyz", ""},
		{"query only", "code=plain&state=s1", "plain", ""},
		{"state mismatch", "http://localhost:8085/callback?state=other&code=x", "", "state mismatch"},
		{"empty", "  ", "", "empty"},
		{"url without code", "http://localhost:8085/callback?code=", "", "no code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCode(tt.input, "s1")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("parseCode(%q) error = %v, want %q", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("parseCode(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
			}
		})
	}
}

func TestTranslateError(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not logged in", &backend.AuthError{Reason: "not logged in"}, "Run 'focuslist login'"},
		{"rejected", &backend.AuthError{Backend: "sheets", Reason: "token revoked"}, "authentication failed for sheets: token revoked"},
		{"stale", fmt.Errorf("update: %w", backend.ErrStalePosition), "Another client changed the list"},
		{"not found", fmt.Errorf("%w: #4", controller.ErrTaskNotFound), "task not found: #4"},
		{"offline", backend.NewRemoteError("postgres", "list", netErr), "backend postgres is offline"},
		{"timeout", fmt.Errorf("list: %w", context.DeadlineExceeded), "request timed out"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			if !strings.Contains(got.Error(), tt.want) {
				t.Errorf("translateError(%v) = %q, want containing %q", tt.err, got, tt.want)
			}
		})
	}

	suggested := utils.ErrTaskNotFound("x")
	if translateError(suggested) != suggested {
		t.Error("errors with a suggestion should pass through")
	}
}
