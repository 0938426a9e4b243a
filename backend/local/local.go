// Package local implements a Store that keeps the whole task list as one
// JSON array under a fixed key in a local key/value store.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"focuslist/backend"
	"focuslist/internal/kvstore"
)

// StorageKey is the fixed key the task list is stored under
const StorageKey = "focuslist.todos"

const backendName = "local"

// KV is the subset of kvstore.Store the backend needs
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Backend implements backend.Store on a local key/value store.
// Every mutation rewrites the whole blob, so each one is immediately durable.
type Backend struct {
	kv  KV
	mu  sync.Mutex
	now func() time.Time
}

// New opens the key/value database at path and returns a backend on it
func New(path string) (*Backend, error) {
	kv, err := kvstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return NewWithKV(kv), nil
}

// NewWithKV creates a backend on an existing key/value store
func NewWithKV(kv KV) *Backend {
	return &Backend{kv: kv, now: time.Now}
}

// Close closes the key/value store
func (b *Backend) Close() error {
	return b.kv.Close()
}

// load reads and decodes the stored list. A missing key is an empty list.
func (b *Backend) load(ctx context.Context) ([]backend.Task, error) {
	raw, ok, err := b.kv.Get(ctx, StorageKey)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []backend.Task{}, nil
	}

	var tasks []backend.Task
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return nil, fmt.Errorf("corrupt task list under %q: %w", StorageKey, err)
	}
	if tasks == nil {
		tasks = []backend.Task{}
	}
	return tasks, nil
}

// save encodes and writes the whole list
func (b *Backend) save(ctx context.Context, tasks []backend.Task) error {
	data, err := json.Marshal(tasks)
	if err != nil {
		return err
	}
	return b.kv.Set(ctx, StorageKey, string(data))
}

// List returns the stored tasks. The owner is implied by the device.
func (b *Backend) List(ctx context.Context, owner string) ([]backend.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tasks, err := b.load(ctx)
	if err != nil {
		return nil, backend.NewRemoteError(backendName, "list", err)
	}
	return tasks, nil
}

// Create appends a task, keeping the client-chosen id
func (b *Backend) Create(ctx context.Context, owner string, draft backend.Task) (*backend.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tasks, err := b.load(ctx)
	if err != nil {
		return nil, backend.NewRemoteError(backendName, "create", err)
	}

	task := backend.Task{
		ID:        draft.ID,
		Text:      draft.Text,
		Completed: false,
		Created:   draft.Created,
	}
	if task.ID == "" {
		task.ID = backend.GenerateID()
	}
	if task.Created == "" {
		task.Created = backend.FormatCreated(b.now())
	}
	if backend.FindTask(tasks, task.ID) >= 0 {
		return nil, &backend.RemoteError{Backend: backendName, Op: "create", Message: "duplicate task id " + task.ID}
	}

	tasks = append(tasks, task)
	if err := b.save(ctx, tasks); err != nil {
		return nil, backend.NewRemoteError(backendName, "create", err)
	}
	return &task, nil
}

// SetCompleted updates the completion flag of the task with ref.ID
func (b *Backend) SetCompleted(ctx context.Context, ref backend.TaskRef, completed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tasks, err := b.load(ctx)
	if err != nil {
		return backend.NewRemoteError(backendName, "update", err)
	}

	i := backend.FindTask(tasks, ref.ID)
	if i < 0 {
		return &backend.RemoteError{Backend: backendName, Op: "update", Message: "task not found: " + ref.ID}
	}
	tasks[i].Completed = completed

	if err := b.save(ctx, tasks); err != nil {
		return backend.NewRemoteError(backendName, "update", err)
	}
	return nil
}

// Remove deletes the task with ref.ID
func (b *Backend) Remove(ctx context.Context, ref backend.TaskRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tasks, err := b.load(ctx)
	if err != nil {
		return backend.NewRemoteError(backendName, "delete", err)
	}

	i := backend.FindTask(tasks, ref.ID)
	if i < 0 {
		return &backend.RemoteError{Backend: backendName, Op: "delete", Message: "task not found: " + ref.ID}
	}
	tasks = append(tasks[:i], tasks[i+1:]...)

	if err := b.save(ctx, tasks); err != nil {
		return backend.NewRemoteError(backendName, "delete", err)
	}
	return nil
}

// Verify interface compliance at compile time
var _ backend.Store = (*Backend)(nil)
