// Package sheets provides a backend that keeps tasks as rows of a shared
// spreadsheet, using the Google Sheets API v4.
//
// Rows follow a header row and hold "id, text, TRUE|FALSE, time" in columns
// A to D. The API addresses cells by coordinates, so updates and deletes are
// position-addressed. Positions carry the generation of the list they were
// read from; inserts and deletes bump the generation. Writes are serialized
// and every position-addressed write first checks that column A of the
// target row still holds the task id, re-resolving the row when it does not.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"focuslist/backend"
)

const (
	// Scope is the OAuth scope needed for reading and writing the sheet
	Scope = "https://www.googleapis.com/auth/spreadsheets"

	// DefaultSheetName is the tab holding the tasks
	DefaultSheetName = "Sheet1"
	// DefaultLoginsSheet is the tab receiving login/logout activity
	DefaultLoginsSheet = "Logins"

	valueInputOption = "USER_ENTERED"
	backendName      = "sheets"

	// headerRows is the number of rows before the first task
	headerRows = 1
)

// Config holds spreadsheet settings
type Config struct {
	SpreadsheetID string
	SheetName     string
	SheetID       int64 // numeric id of SheetName, used by row deletes
	LoginsSheet   string
	BaseURL       string // Override for testing
}

// Backend implements backend.Store on a spreadsheet
type Backend struct {
	svc        *sheets.Service
	cfg        Config
	mu         sync.Mutex
	generation uint64
}

// New creates a backend authenticated by ts
func New(ctx context.Context, cfg Config, ts oauth2.TokenSource) (*Backend, error) {
	if ts == nil {
		return nil, &backend.AuthError{Backend: backendName, Reason: "no credential present"}
	}
	return NewWithHTTPClient(ctx, cfg, oauth2.NewClient(ctx, ts))
}

// NewWithHTTPClient creates a backend with a custom HTTP client (for testing).
func NewWithHTTPClient(ctx context.Context, cfg Config, httpClient *http.Client) (*Backend, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}
	if cfg.LoginsSheet == "" {
		cfg.LoginsSheet = DefaultLoginsSheet
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Backend{svc: svc, cfg: cfg}, nil
}

// Close releases nothing; the HTTP client is owned by the caller
func (b *Backend) Close() error {
	return nil
}

// Generation returns the current list snapshot generation
func (b *Backend) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// PositionValid reports whether p was read from the current snapshot
func (b *Backend) PositionValid(p backend.Position) bool {
	return p.Generation == b.Generation()
}

// =============================================================================
// Task Operations
// =============================================================================

// List returns every task row. Access is scoped by the OAuth credential,
// so owner is not used for filtering.
func (b *Backend) List(ctx context.Context, owner string) ([]backend.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.svc.Spreadsheets.Values.Get(b.cfg.SpreadsheetID, b.a1("A:D")).Context(ctx).Do()
	if err != nil {
		return nil, wrapError("list", err)
	}

	tasks := []backend.Task{}
	for i, row := range resp.Values {
		if i < headerRows {
			continue
		}
		id := cell(row, 0)
		if id == "" {
			continue
		}
		tasks = append(tasks, backend.Task{
			ID:        id,
			Text:      cell(row, 1),
			Completed: strings.EqualFold(cell(row, 2), "TRUE"),
			Created:   cell(row, 3),
			Position:  &backend.Position{Index: i - headerRows, Generation: b.generation},
		})
	}

	return tasks, nil
}

// Create appends a row. The client id is the durable id.
func (b *Backend) Create(ctx context.Context, owner string, draft backend.Task) (*backend.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task := backend.Task{ID: draft.ID, Text: draft.Text, Created: draft.Created}
	if task.ID == "" {
		task.ID = backend.GenerateID()
	}
	if task.Created == "" {
		task.Created = backend.FormatCreated(time.Now())
	}

	vr := &sheets.ValueRange{
		Values: [][]interface{}{{task.ID, literal(task.Text), formatBool(false), task.Created}},
	}
	_, err := b.svc.Spreadsheets.Values.Append(b.cfg.SpreadsheetID, b.a1("A:D"), vr).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapError("create", err)
	}

	b.generation++
	return &task, nil
}

// SetCompleted writes TRUE or FALSE into column C of the task's row
func (b *Backend) SetCompleted(ctx context.Context, ref backend.TaskRef, completed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.resolve(ctx, "update", ref)
	if err != nil {
		return err
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{{formatBool(completed)}}}
	_, err = b.svc.Spreadsheets.Values.Update(b.cfg.SpreadsheetID, b.a1(fmt.Sprintf("C%d", rowNumber(index))), vr).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return wrapError("update", err)
	}
	return nil
}

// Remove deletes the task's row. All later rows shift up by one.
func (b *Backend) Remove(ctx context.Context, ref backend.TaskRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.resolve(ctx, "delete", ref)
	if err != nil {
		return err
	}

	start := int64(index + headerRows)
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:         b.cfg.SheetID,
					Dimension:       "ROWS",
					StartIndex:      start,
					EndIndex:        start + 1,
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	if _, err := b.svc.Spreadsheets.BatchUpdate(b.cfg.SpreadsheetID, req).Context(ctx).Do(); err != nil {
		return wrapError("delete", err)
	}

	b.generation++
	return nil
}

// LogActivity appends a login or logout event to the logins sheet
func (b *Backend) LogActivity(ctx context.Context, a backend.Activity) error {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	vr := &sheets.ValueRange{
		Values: [][]interface{}{{literal(a.Email), literal(a.Name), string(a.Kind), at.Format("2006-01-02 15:04:05")}},
	}
	_, err := b.svc.Spreadsheets.Values.Append(b.cfg.SpreadsheetID, quoteSheet(b.cfg.LoginsSheet)+"!A:D", vr).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return wrapError("log activity", err)
	}
	return nil
}

// =============================================================================
// Row resolution
// =============================================================================

// resolve returns the current 0-based task index of ref. A cached position
// is used only after column A of that row is confirmed to hold ref.ID;
// otherwise the id column is scanned. Callers hold b.mu.
func (b *Backend) resolve(ctx context.Context, op string, ref backend.TaskRef) (int, error) {
	if ref.Position != nil && ref.Position.Index >= 0 {
		rng := b.a1(fmt.Sprintf("A%d", rowNumber(ref.Position.Index)))
		resp, err := b.svc.Spreadsheets.Values.Get(b.cfg.SpreadsheetID, rng).Context(ctx).Do()
		if err != nil {
			return 0, wrapError(op, err)
		}
		if len(resp.Values) > 0 && cell(resp.Values[0], 0) == ref.ID {
			return ref.Position.Index, nil
		}
	}

	resp, err := b.svc.Spreadsheets.Values.Get(b.cfg.SpreadsheetID, b.a1("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, wrapError(op, err)
	}
	for i, row := range resp.Values {
		if i < headerRows {
			continue
		}
		if cell(row, 0) == ref.ID {
			return i - headerRows, nil
		}
	}

	return 0, &backend.RemoteError{
		Backend: backendName,
		Op:      op,
		Message: fmt.Sprintf("task %s is no longer in the sheet", ref.ID),
		Err:     backend.ErrStalePosition,
	}
}

// rowNumber converts a 0-based task index to a 1-based A1 row number
func rowNumber(index int) int {
	return index + headerRows + 1
}

// a1 prefixes rng with the quoted task sheet name
func (b *Backend) a1(rng string) string {
	return quoteSheet(b.cfg.SheetName) + "!" + rng
}

// quoteSheet quotes a sheet name for A1 notation when it needs it
func quoteSheet(name string) string {
	for _, r := range name {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return "'" + strings.ReplaceAll(name, "'", "''") + "'"
		}
	}
	return name
}

func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

// literal makes USER_ENTERED store s as plain text. The leading apostrophe
// is not part of the cell value, so formulas, numbers and dates read back
// exactly as typed.
func literal(s string) string {
	if s == "" {
		return s
	}
	return "'" + s
}

func formatBool(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// wrapError maps API errors onto backend error types, keeping the message
// from the API error envelope when there is one.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" {
			msg = http.StatusText(gerr.Code)
		}
		if gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden {
			return &backend.AuthError{Backend: backendName, Reason: msg}
		}
		return &backend.RemoteError{Backend: backendName, Op: op, Message: msg, Err: err}
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		reason := rerr.ErrorDescription
		if reason == "" {
			reason = "token refresh failed"
		}
		return &backend.AuthError{Backend: backendName, Reason: reason}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &backend.RemoteError{Backend: backendName, Op: op, Message: "request timed out", Err: err}
	}

	return backend.NewRemoteError(backendName, op, err)
}

// Verify interface compliance at compile time
var (
	_ backend.Store          = (*Backend)(nil)
	_ backend.Positional     = (*Backend)(nil)
	_ backend.ActivityLogger = (*Backend)(nil)
)
