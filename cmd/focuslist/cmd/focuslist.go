package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"focuslist/backend"
	"focuslist/backend/local"
	"focuslist/backend/postgres"
	"focuslist/backend/sheets"
	"focuslist/internal/assistant"
	"focuslist/internal/config"
	"focuslist/internal/controller"
	"focuslist/internal/credentials"
	"focuslist/internal/server"
	"focuslist/internal/session"
	"focuslist/internal/shutdown"
	"focuslist/internal/tui"
	"focuslist/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// localOwner scopes local tasks when nobody is signed in
const localOwner = "local"

// manualRedirectURL is used with --code when no redirect_url is configured.
// Nothing listens there; the code is copied from the browser's address bar.
const manualRedirectURL = "http://localhost:8085/callback"

// shutdownTimeout bounds the cleanup of 'serve'
const shutdownTimeout = 10 * time.Second

// Config holds application configuration
type Config struct {
	NoPrompt       bool
	Verbose        bool
	OutputFormat   string
	ConfigPath     string              // Path to config file (for testing)
	LocalPath      string              // Path to local store (for testing)
	Keyring        credentials.Keyring // Session keyring, nil for the system keyring
	Stdin          io.Reader           // Prompt input, nil for os.Stdin
	Store          backend.Store       // Store used instead of the configured one (for testing)
	AssistantDelay *time.Duration      // Assistant thinking delay override (for testing)
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	if cfg == nil {
		cfg = &Config{}
	}
	// --json applies to this run only
	outputFormat := cfg.OutputFormat
	defer func() { cfg.OutputFormat = outputFormat }()

	rootCmd := NewFocusList(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		err = translateError(err)
		if containsJSONFlag(args) || cfg.OutputFormat == "json" {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			// Emit ERROR result code in no-prompt mode
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// app carries what every subcommand needs once flags and config are loaded
type app struct {
	cfg    *Config
	conf   *config.Config
	stdout io.Writer
	stderr io.Writer
}

// NewFocusList creates the root command with injectable IO
func NewFocusList(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}
	a := &app{cfg: cfg, stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:     "focuslist",
		Short:   "A focused todo list",
		Long:    "focuslist keeps one short todo list in a shared spreadsheet, a hosted database or on this device.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add global flags
	cmd.PersistentFlags().String("config", "", "Path to config file")
	cmd.PersistentFlags().StringP("backend", "b", "", "Task store to use (sheets, postgres, local)")
	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	cmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newListCmd(a),
		newAddCmd(a),
		newToggleCmd(a),
		newRemoveCmd(a),
		newTUICmd(a),
		newServeCmd(a),
		newChatCmd(a),
		newVersionCmd(stdout),
	)

	return cmd
}

// load reads the config file and applies global flags
func (a *app) load(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = a.cfg.ConfigPath
	}
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}

	noPrompt, _ := cmd.Flags().GetBool("no-prompt")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	backendName, _ := cmd.Flags().GetString("backend")

	format := a.cfg.OutputFormat
	if jsonOutput {
		format = "json"
	}
	conf.ApplyFlags(noPrompt || a.cfg.NoPrompt, format, backendName)
	if a.cfg.LocalPath != "" {
		conf.Backends.Local.Path = a.cfg.LocalPath
	}
	if err := conf.Validate(); err != nil {
		return utils.WrapWithSuggestion(err, "Fix the setting in "+configPathHint(configPath))
	}

	a.cfg.NoPrompt = conf.NoPrompt
	a.cfg.OutputFormat = conf.OutputFormat
	a.cfg.Verbose = a.cfg.Verbose || verbose

	utils.ConfigureLogger(conf.Logging.Level, conf.Logging.Format, a.stderr)
	utils.SetVerboseMode(a.cfg.Verbose)
	a.conf = conf
	return nil
}

func configPathHint(path string) string {
	if path == "" {
		return filepath.Join(config.GetConfigDir(), "config.yaml")
	}
	return path
}

func (a *app) jsonOutput() bool {
	return a.conf.OutputFormat == "json"
}

func (a *app) stdin() io.Reader {
	if a.cfg.Stdin != nil {
		return a.cfg.Stdin
	}
	return os.Stdin
}

func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.conf.GetRequestTimeout())
}

// done prints a completion line and the result code in no-prompt mode
func (a *app) done(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(a.stdout, format+"\n", args...)
	if a.conf.NoPrompt {
		_, _ = fmt.Fprintln(a.stdout, ResultActionCompleted)
	}
}

// =============================================================================
// Sessions and stores
// =============================================================================

func (a *app) sessionManager() *session.Manager {
	var oauthCfg *oauth2.Config
	g := a.conf.Auth.Google
	if g.ClientID != "" {
		oauthCfg = session.GoogleConfig(g.ClientID, g.ClientSecret, g.RedirectURL, sheets.Scope)
	}
	return session.NewManager(oauthCfg, a.cfg.Keyring, session.WithJWTSecret(a.conf.Auth.JWTSecret))
}

// restore returns the saved session, or nil when nobody is signed in and
// the configured store works without one
func (a *app) restore(ctx context.Context, mgr *session.Manager) (*session.Session, error) {
	sess, err := mgr.Restore(ctx)
	if err == nil {
		return sess, nil
	}
	if a.conf.DefaultBackend == config.BackendLocal {
		if !backend.IsAuthError(err) {
			utils.Debugf("Ignoring unreadable session: %v", err)
		}
		return nil, nil
	}
	return nil, err
}

// openStore connects to the configured store. ctx must outlive the store.
func (a *app) openStore(ctx context.Context, mgr *session.Manager, sess *session.Session) (backend.Store, error) {
	if a.cfg.Store != nil {
		return a.cfg.Store, nil
	}

	name := a.conf.DefaultBackend
	switch name {
	case config.BackendLocal:
		path := a.conf.Backends.Local.Path
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("could not create data directory: %w", err)
			}
		}
		be, err := local.New(path)
		if err != nil {
			return nil, err
		}
		return be, nil

	case config.BackendSheets:
		if sess == nil {
			return nil, utils.ErrNotLoggedIn(nil)
		}
		sc := a.conf.Backends.Sheets
		be, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID: sc.SpreadsheetID,
			SheetName:     sc.SheetName,
			SheetID:       sc.SheetID,
			LoginsSheet:   sc.LoginsSheet,
		}, mgr.TokenSource(ctx, sess))
		if err != nil {
			return nil, err
		}
		return be, nil

	case config.BackendPostgres:
		if sess == nil {
			return nil, utils.ErrNotLoggedIn(nil)
		}
		pc := a.conf.Backends.Postgres
		be, err := postgres.New(ctx, postgres.Config{URL: pc.URL, Table: pc.Table})
		if err != nil {
			return nil, err
		}
		return be, nil
	}

	return nil, utils.ErrBackendNotConfigured(name)
}

// workspace is an open store with the controller over the owner's list
type workspace struct {
	store backend.Store
	ctrl  *controller.Controller
	sess  *session.Session
}

func (w *workspace) profile() session.Profile {
	if w.sess == nil {
		return session.Profile{}
	}
	return w.sess.Profile
}

func (w *workspace) Close() {
	if err := w.store.Close(); err != nil {
		utils.Warnf("Failed to close store: %v", err)
	}
}

func (a *app) open(ctx context.Context) (*workspace, error) {
	mgr := a.sessionManager()
	sess, err := a.restore(ctx, mgr)
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx, mgr, sess)
	if err != nil {
		return nil, err
	}

	owner := localOwner
	if sess != nil {
		owner = sess.OwnerKey()
	}
	utils.Debugf("Using %s store for %q", a.conf.DefaultBackend, owner)
	return &workspace{store: store, ctrl: controller.New(store, owner), sess: sess}, nil
}

// openLoaded opens the workspace and loads the list
func (a *app) openLoaded(ctx context.Context) (*workspace, error) {
	ws, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	if err := ws.ctrl.Refresh(tctx); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// logActivity records a login or logout when the store keeps a log.
// Failures only warn.
func (a *app) logActivity(ctx context.Context, mgr *session.Manager, sess *session.Session, kind backend.ActivityKind) {
	store, err := a.openStore(ctx, mgr, sess)
	if err != nil {
		utils.Debugf("Not recording %s: %v", kind, err)
		return
	}
	defer func() { _ = store.Close() }()

	logger, ok := store.(backend.ActivityLogger)
	if !ok {
		return
	}
	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	err = logger.LogActivity(tctx, backend.Activity{
		Email: sess.Profile.Email,
		Name:  sess.Profile.Name,
		Kind:  kind,
		At:    time.Now(),
	})
	if err != nil {
		utils.Warnf("Failed to record %s: %s", kind, backend.Message(err))
	}
}

// =============================================================================
// login, logout, whoami
// =============================================================================

func newLoginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		Long: "Sign in with Google, or with a hosted-database session token via --token.\n" +
			"Without a configured redirect_url the browser returns to a local callback.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manual, _ := cmd.Flags().GetBool("code")
			token, _ := cmd.Flags().GetString("token")
			return a.runLogin(cmd.Context(), manual, token)
		},
	}
	cmd.Flags().Bool("code", false, "Paste the authorization code instead of waiting for the local callback")
	cmd.Flags().String("token", "", "Sign in with a session token (JWT)")
	return cmd
}

func (a *app) runLogin(ctx context.Context, manual bool, token string) error {
	mgr := a.sessionManager()

	var sess *session.Session
	var err error
	if token != "" {
		sess, err = mgr.LoginWithToken(ctx, token)
	} else {
		sess, err = a.googleLogin(ctx, mgr, manual)
	}
	if err != nil {
		return err
	}

	a.logActivity(ctx, mgr, sess, backend.ActivityLogin)

	if a.jsonOutput() {
		return writeJSON(a.stdout, profileResponse(sess, ResultActionCompleted))
	}
	a.done("Logged in as %s", displayName(sess.Profile))
	return nil
}

func (a *app) googleLogin(ctx context.Context, mgr *session.Manager, manual bool) (*session.Session, error) {
	if a.conf.Auth.Google.ClientID == "" {
		return nil, utils.WrapWithSuggestion(
			errors.New("google sign-in is not configured"),
			"Set auth.google.client_id in your config file, or use 'focuslist login --token'")
	}

	verifier := session.GenerateVerifier()
	state := uuid.NewString()

	if manual || mgr.HasRedirectURL() {
		if !mgr.HasRedirectURL() {
			mgr.SetRedirectURL(manualRedirectURL)
		}
		authURL, err := mgr.AuthCodeURL(state, verifier)
		if err != nil {
			return nil, err
		}
		_, _ = fmt.Fprintf(a.stderr, "Open this URL in your browser:\n\n  %s\n\n", authURL)
		input, err := credentials.PromptSecret(a.stdin(), a.stderr, "Authorization code", credentials.NewTerminalReader(a.stdin()))
		if err != nil {
			return nil, fmt.Errorf("failed to read authorization code: %w", err)
		}
		code, err := parseCode(input, state)
		if err != nil {
			return nil, err
		}
		return a.exchange(ctx, mgr, code, verifier)
	}

	cb, err := session.ListenCallback(state)
	if err != nil {
		return nil, err
	}
	defer cb.Close()

	mgr.SetRedirectURL(cb.RedirectURL())
	authURL, err := mgr.AuthCodeURL(state, verifier)
	if err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintf(a.stderr, "Open this URL in your browser:\n\n  %s\n\nWaiting for sign-in...\n", authURL)

	code, err := cb.Wait(ctx, session.CallbackTimeout)
	if err != nil {
		return nil, err
	}
	return a.exchange(ctx, mgr, code, verifier)
}

func (a *app) exchange(ctx context.Context, mgr *session.Manager, code, verifier string) (*session.Session, error) {
	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return mgr.Login(tctx, code, verifier)
}

// parseCode accepts a bare code or the whole redirect URL
func parseCode(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("authorization code is empty")
	}
	if !strings.Contains(input, "code=") {
		return input, nil
	}

	raw := input
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return "", fmt.Errorf("could not read redirect URL: %w", err)
	}
	if s := q.Get("state"); s != "" && s != state {
		return "", &backend.AuthError{Backend: string(session.ProviderGoogle), Reason: "state mismatch"}
	}
	if q.Get("code") == "" {
		return "", errors.New("redirect URL has no code")
	}
	return q.Get("code"), nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mgr := a.sessionManager()
			if sess, err := mgr.Restore(ctx); err == nil {
				a.logActivity(ctx, mgr, sess, backend.ActivityLogout)
			}
			if err := mgr.Logout(ctx); err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(a.stdout, map[string]string{"action": "logout", "result": ResultActionCompleted})
			}
			a.done("Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.sessionManager().Restore(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(a.stdout, profileResponse(sess, ResultInfoOnly))
			}
			_, _ = fmt.Fprintf(a.stdout, "%s (%s)\n", displayName(sess.Profile), sess.Provider)
			if a.conf.NoPrompt {
				_, _ = fmt.Fprintln(a.stdout, ResultInfoOnly)
			}
			return nil
		},
	}
}

func displayName(p session.Profile) string {
	switch {
	case p.Name != "" && p.Email != "" && p.Name != p.Email:
		return fmt.Sprintf("%s <%s>", p.Name, p.Email)
	case p.Email != "":
		return p.Email
	default:
		return p.Name
	}
}

func profileResponse(sess *session.Session, result string) map[string]string {
	return map[string]string{
		"provider": string(sess.Provider),
		"name":     sess.Profile.Name,
		"email":    sess.Profile.Email,
		"owner":    sess.OwnerKey(),
		"result":   result,
	}
}

// =============================================================================
// Task commands
// =============================================================================

// numberedTask is a task with its 1-based position in the list
type numberedTask struct {
	Number int `json:"number"`
	backend.Task
}

type listResponse struct {
	Tasks     []numberedTask `json:"tasks"`
	Count     int            `json:"count"`
	Remaining int            `json:"remaining"`
	Result    string         `json:"result"`
}

type actionResponse struct {
	Action string       `json:"action"`
	Task   backend.Task `json:"task"`
	Result string       `json:"result"`
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the todo list",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openLoaded(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			return a.printList(ws.ctrl)
		},
	}
}

func (a *app) printList(ctrl *controller.Controller) error {
	tasks := ctrl.Tasks()
	remaining := ctrl.ActiveCount()

	if a.jsonOutput() {
		out := listResponse{Tasks: []numberedTask{}, Count: len(tasks), Remaining: remaining, Result: ResultInfoOnly}
		for i, t := range tasks {
			out.Tasks = append(out.Tasks, numberedTask{Number: i + 1, Task: t})
		}
		return writeJSON(a.stdout, out)
	}

	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(a.stdout, "No tasks found")
	}
	for i, t := range tasks {
		check := "[ ]"
		if t.Completed {
			check = "[✓]"
		}
		_, _ = fmt.Fprintf(a.stdout, "#%d %s %s (%s)\n", i+1, check, t.Text, t.Created)
	}
	_, _ = fmt.Fprintln(a.stdout, tui.Remaining(remaining))
	if a.conf.NoPrompt {
		_, _ = fmt.Fprintln(a.stdout, ResultInfoOnly)
	}
	return nil
}

func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <text...>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			tctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			task, err := ws.ctrl.Add(tctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			if a.jsonOutput() {
				return writeJSON(a.stdout, actionResponse{Action: "add", Task: *task, Result: ResultActionCompleted})
			}
			a.done("Added task: %s", task.Text)
			return nil
		},
	}
}

func newToggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "toggle <id|#n>",
		Aliases: []string{"done"},
		Short:   "Mark a task completed, or active again",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openLoaded(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			task, err := ws.ctrl.Resolve(args[0])
			if err != nil {
				return err
			}
			tctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			if err := ws.ctrl.Toggle(tctx, task.ID); err != nil {
				return err
			}
			task.Completed = !task.Completed

			if a.jsonOutput() {
				return writeJSON(a.stdout, actionResponse{Action: "toggle", Task: task, Result: ResultActionCompleted})
			}
			if task.Completed {
				a.done("Completed: %s", task.Text)
			} else {
				a.done("Reopened: %s", task.Text)
			}
			return nil
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id|#n>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openLoaded(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			task, err := ws.ctrl.Resolve(args[0])
			if err != nil {
				return err
			}
			if !a.conf.NoPrompt {
				if !utils.PromptYesNoWithReader(fmt.Sprintf("Delete task %q?", task.Text), a.stdin(), a.stderr) {
					_, _ = fmt.Fprintln(a.stdout, "Cancelled")
					return nil
				}
			}

			tctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			if err := ws.ctrl.Delete(tctx, task.ID); err != nil {
				return err
			}

			if a.jsonOutput() {
				return writeJSON(a.stdout, actionResponse{Action: "delete", Task: task, Result: ResultActionCompleted})
			}
			a.done("Deleted task: %s", task.Text)
			return nil
		},
	}
}

// =============================================================================
// Interactive surfaces
// =============================================================================

func newTUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			// Log lines would corrupt the alt screen
			utils.SetOutput(io.Discard)
			defer utils.SetOutput(a.stderr)

			model := tui.New(ws.ctrl, tui.WithContext(ctx), tui.WithUser(ws.profile().Name))
			opts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(a.stdout)}
			if a.cfg.Stdin != nil {
				opts = append(opts, tea.WithInput(a.cfg.Stdin))
			}
			_, err = tea.NewProgram(model, opts...).Run()
			return err
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the list over an HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = a.conf.Server.Addr
			}
			return a.runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from server.addr)")
	return cmd
}

func (a *app) runServe(ctx context.Context, addr string) error {
	ws, err := a.open(ctx)
	if err != nil {
		return err
	}

	asst, err := a.newAssistant(a.conf.Assistant.Default)
	if err != nil {
		ws.Close()
		return err
	}

	tctx, cancel := a.withTimeout(ctx)
	if err := ws.ctrl.Refresh(tctx); err != nil {
		utils.Warnf("Initial load failed: %s", backend.Message(err))
	}
	cancel()

	srv := server.NewServer(ws.ctrl, asst, server.WithProfile(ws.profile()))

	sm := shutdown.NewManager()
	stop := sm.NotifyOn(os.Interrupt, syscall.SIGTERM)
	defer stop()
	sm.RegisterCleanup("store", func(context.Context) error {
		return ws.store.Close()
	})
	sm.RegisterCleanup("http-server", srv.Shutdown)

	errCh := srv.Start(addr)
	_, _ = fmt.Fprintf(a.stdout, "Serving %s list on http://%s\n", a.conf.DefaultBackend, addr)

	var serveErr error
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			serveErr = err
		}
	case <-sm.Context().Done():
	case <-ctx.Done():
	}

	if sm.IsShutdown() {
		_, _ = fmt.Fprintln(a.stdout, "Shutting down")
	}
	sm.Shutdown()
	wctx, wcancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer wcancel()
	if err := sm.Wait(wctx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func (a *app) newAssistant(name string) (assistant.Assistant, error) {
	var opts []assistant.Option
	if a.cfg.AssistantDelay != nil {
		opts = append(opts, assistant.WithDelay(*a.cfg.AssistantDelay))
	}
	return assistant.New(name, opts...)
}

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Ask the assistant about your tasks",
		Long:  "Send one message, or start a conversation when no message is given. Type 'exit' to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, _ := cmd.Flags().GetString("bot")
			if bot == "" {
				bot = a.conf.Assistant.Default
			}
			return a.runChat(cmd.Context(), bot, strings.Join(args, " "))
		},
	}
	cmd.Flags().String("bot", "", "Assistant to talk to (focus or sarcastic)")
	return cmd
}

func (a *app) runChat(ctx context.Context, bot, message string) error {
	asst, err := a.newAssistant(bot)
	if err != nil {
		return err
	}

	var ctrl *controller.Controller
	userName := ""
	if asst.Name() == assistant.NameFocus {
		ws, err := a.openLoaded(ctx)
		if err != nil {
			return err
		}
		defer ws.Close()
		ctrl = ws.ctrl
		userName = ws.profile().Name
	}
	tasks := func() []backend.Task {
		if ctrl == nil {
			return nil
		}
		return ctrl.Tasks()
	}

	if strings.TrimSpace(message) != "" {
		reply, err := asst.Reply(ctx, message, tasks())
		if err != nil {
			return err
		}
		if a.jsonOutput() {
			return writeJSON(a.stdout, map[string]string{"assistant": asst.Name(), "reply": reply, "result": ResultInfoOnly})
		}
		_, _ = fmt.Fprintln(a.stdout, reply)
		return nil
	}

	_, _ = fmt.Fprintln(a.stdout, asst.Greeting(userName))
	scanner := bufio.NewScanner(a.stdin())
	for {
		_, _ = fmt.Fprint(a.stdout, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		reply, err := asst.Reply(ctx, line, tasks())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(a.stdout, reply)
	}
	return scanner.Err()
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return writeJSON(stdout, map[string]string{"version": Version, "result": ResultInfoOnly})
			}
			_, _ = fmt.Fprintf(stdout, "focuslist %s\n", Version)
			return nil
		},
	}
}

// =============================================================================
// Output helpers
// =============================================================================

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, string(data))
	return nil
}

// errorResponse represents a JSON error response
type errorResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	Code       int    `json:"code"`
	Result     string `json:"result"`
}

// outputErrorJSON writes an error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	response := errorResponse{
		Error:  err.Error(),
		Code:   1,
		Result: ResultError,
	}
	var suggested *utils.ErrorWithSuggestion
	if errors.As(err, &suggested) {
		response.Error = suggested.Err.Error()
		response.Suggestion = suggested.GetSuggestion()
	}

	jsonBytes, _ := json.Marshal(response)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

// translateError turns store and session errors into errors with a
// suggestion for the user
func translateError(err error) error {
	var suggested *utils.ErrorWithSuggestion
	if errors.As(err, &suggested) {
		return err
	}

	var auth *backend.AuthError
	var remote *backend.RemoteError
	switch {
	case errors.As(err, &auth):
		if auth.Backend == "" {
			if auth.Reason == "not logged in" {
				return utils.ErrNotLoggedIn(nil)
			}
			return utils.ErrNotLoggedIn(errors.New(auth.Reason))
		}
		return utils.ErrAuthenticationFailed(auth.Backend, auth.Reason)

	case errors.Is(err, backend.ErrStalePosition):
		return utils.ErrStaleTask(err)

	case errors.Is(err, controller.ErrTaskNotFound):
		ref := strings.TrimPrefix(err.Error(), controller.ErrTaskNotFound.Error()+": ")
		return utils.ErrTaskNotFound(ref)

	case errors.Is(err, context.DeadlineExceeded):
		return utils.ErrBackendOffline(remoteName(err), "request timed out")

	case errors.As(err, &remote) && isNetworkError(err):
		return utils.ErrBackendOffline(remote.Backend, remote.Message)
	}
	return err
}

func remoteName(err error) string {
	var remote *backend.RemoteError
	if errors.As(err, &remote) {
		return remote.Backend
	}
	return "store"
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
