// Package controller holds the in-memory task list shown to the user and
// applies add, toggle and delete optimistically against a backend.Store,
// rolling back or refetching when the store reports a failure.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"focuslist/backend"
	"focuslist/internal/utils"
)

// State is the lifecycle state of a task in the list
type State int

const (
	StateConfirmed State = iota
	StatePendingCreate
	StateToggling
	StatePendingDelete
)

func (s State) String() string {
	switch s {
	case StatePendingCreate:
		return "pending-create"
	case StateToggling:
		return "toggling"
	case StatePendingDelete:
		return "pending-delete"
	default:
		return "confirmed"
	}
}

var (
	// ErrEmptyText is returned by Add for blank input
	ErrEmptyText = errors.New("task text is empty")
	// ErrTaskNotFound is returned for ids not in the list
	ErrTaskNotFound = errors.New("task not found")
)

// Banner prefixes, one per operation
const (
	prefixLoad   = "Failed to load todos"
	prefixAdd    = "Failed to add task"
	prefixToggle = "Failed to update status"
	prefixDelete = "Failed to delete task"
)

// Controller is the task list of one owner. The mutex guards memory only
// and is never held across a store call.
type Controller struct {
	store backend.Store
	owner string
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	tasks    []backend.Task
	states   map[string]State
	errMsg   string
	inflight int // refreshes in progress
}

// Option is a functional option for Controller
type Option func(*Controller)

// WithClock sets the clock used for the creation time of new tasks
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithIDGenerator sets the generator for temporary task ids
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) {
		c.newID = newID
	}
}

// New creates a controller for owner's tasks in store
func New(store backend.Store, owner string, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		owner:  owner,
		now:    time.Now,
		newID:  backend.GenerateID,
		tasks:  []backend.Task{},
		states: make(map[string]State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Owner returns the owner key the list is scoped to
func (c *Controller) Owner() string {
	return c.owner
}

// =============================================================================
// Queries
// =============================================================================

// Tasks returns a copy of the visible list
func (c *Controller) Tasks() []backend.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyTasks(c.tasks)
}

// State returns the lifecycle state of id
func (c *Controller) State(id string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[id]
	return s, ok
}

// ActiveCount returns the number of tasks not completed
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if !t.Completed {
			n++
		}
	}
	return n
}

// Error returns the current banner message, empty when there is none
func (c *Controller) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// ClearError dismisses the banner
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = ""
}

// Loading reports whether a refresh is in progress
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// Resolve finds a task by id or by "#n", its 1-based number in the list
func (c *Controller) Resolve(ref string) (backend.Task, error) {
	tasks := c.Tasks()
	ref = strings.TrimSpace(ref)

	if strings.HasPrefix(ref, "#") {
		n, err := strconv.Atoi(ref[1:])
		if err != nil || n < 1 || n > len(tasks) {
			return backend.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, ref)
		}
		return tasks[n-1], nil
	}

	if i := backend.FindTask(tasks, ref); i >= 0 {
		return tasks[i], nil
	}
	return backend.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, ref)
}

// =============================================================================
// Operations
// =============================================================================

// Refresh reloads the list from the store. On failure the previous list is
// kept and the banner is set.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.reload(ctx); err != nil {
		c.fail(prefixLoad, err)
		return err
	}
	return nil
}

// reload fetches and installs the list without touching the banner.
// Tasks still waiting for their create call are kept at the end and tasks
// waiting for their delete call stay hidden.
func (c *Controller) reload(ctx context.Context) error {
	c.mu.Lock()
	c.inflight++
	c.mu.Unlock()

	tasks, err := c.store.List(ctx, c.owner)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if err != nil {
		return err
	}

	fresh := make([]backend.Task, 0, len(tasks))
	states := make(map[string]State, len(tasks))
	for _, t := range copyTasks(tasks) {
		if c.states[t.ID] == StatePendingDelete {
			continue
		}
		fresh = append(fresh, t)
		states[t.ID] = StateConfirmed
	}
	for _, t := range c.tasks {
		if c.states[t.ID] == StatePendingCreate && backend.FindTask(fresh, t.ID) < 0 {
			fresh = append(fresh, t)
			states[t.ID] = StatePendingCreate
		}
	}
	for id, s := range c.states {
		if s == StatePendingDelete {
			states[id] = s
		}
	}
	c.tasks = fresh
	c.states = states
	utils.Debugf("Loaded %d tasks for %q", len(fresh), c.owner)
	return nil
}

// Add appends a task optimistically and confirms it with the store. On
// failure the task is removed again.
func (c *Controller) Add(ctx context.Context, text string) (*backend.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	draft := backend.Task{
		ID:      c.newID(),
		Text:    text,
		Created: backend.FormatCreated(c.now()),
	}

	c.mu.Lock()
	c.tasks = append(c.tasks, draft)
	c.states[draft.ID] = StatePendingCreate
	c.mu.Unlock()

	created, err := c.store.Create(ctx, c.owner, draft)

	c.mu.Lock()
	i := backend.FindTask(c.tasks, draft.ID)
	delete(c.states, draft.ID)
	if err != nil {
		if i >= 0 {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
		}
		c.mu.Unlock()
		c.fail(prefixAdd, err)
		return nil, err
	}

	confirmed := *created
	confirmed.Position = nil
	switch {
	case confirmed.ID != draft.ID && backend.FindTask(c.tasks, confirmed.ID) >= 0:
		// a refresh during the call already installed the stored row
		if i >= 0 {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
		}
	case i >= 0:
		c.tasks[i] = confirmed
	default:
		c.tasks = append(c.tasks, confirmed)
	}
	c.states[confirmed.ID] = StateConfirmed
	c.mu.Unlock()
	utils.Debugf("Created task %s", confirmed.ID)

	if _, ok := c.store.(backend.Positional); ok {
		_ = c.Refresh(ctx)
	}
	return &confirmed, nil
}

// Toggle flips the completion flag optimistically. On failure the previous
// value is restored.
func (c *Controller) Toggle(ctx context.Context, id string) error {
	c.mu.Lock()
	i := backend.FindTask(c.tasks, id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	prev := c.tasks[i].Completed
	c.tasks[i].Completed = !prev
	c.states[id] = StateToggling
	ref := c.refFor(c.tasks[i])
	c.mu.Unlock()

	err := c.store.SetCompleted(ctx, ref, !prev)

	c.mu.Lock()
	if i := backend.FindTask(c.tasks, id); i >= 0 {
		if err != nil {
			c.tasks[i].Completed = prev
		}
		c.states[id] = StateConfirmed
	}
	c.mu.Unlock()

	if err != nil {
		c.fail(prefixToggle, err)
		return err
	}
	return nil
}

// Delete removes a task optimistically. On failure the list is repaired by
// refetching; if that fails too, the task is put back where it was.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	i := backend.FindTask(c.tasks, id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	removed := c.tasks[i]
	ref := c.refFor(removed)
	c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
	c.states[id] = StatePendingDelete
	c.mu.Unlock()

	err := c.store.Remove(ctx, ref)

	c.mu.Lock()
	delete(c.states, id)
	c.mu.Unlock()

	if err == nil {
		if _, ok := c.store.(backend.Positional); ok {
			_ = c.Refresh(ctx)
		}
		return nil
	}

	c.fail(prefixDelete, err)
	if rerr := c.reload(ctx); rerr != nil {
		utils.Warnf("Could not refetch after failed delete: %v", rerr)
		c.mu.Lock()
		if backend.FindTask(c.tasks, id) < 0 {
			if i > len(c.tasks) {
				i = len(c.tasks)
			}
			c.tasks = append(c.tasks[:i], append([]backend.Task{removed}, c.tasks[i:]...)...)
		}
		c.states[id] = StateConfirmed
		c.mu.Unlock()
	}
	return err
}

// refFor builds the store reference for t, dropping a position the store
// reports as stale. Callers hold c.mu.
func (c *Controller) refFor(t backend.Task) backend.TaskRef {
	ref := t.Ref()
	ref.Owner = c.owner
	if p, ok := c.store.(backend.Positional); ok && ref.Position != nil && !p.PositionValid(*ref.Position) {
		ref.Position = nil
	}
	return ref
}

// fail logs err and sets the banner. The last failure wins.
func (c *Controller) fail(prefix string, err error) {
	msg := fmt.Sprintf("%s: %s", prefix, backend.Message(err))
	utils.Errorf("%s", msg)

	c.mu.Lock()
	c.errMsg = msg
	c.mu.Unlock()
}

func copyTasks(tasks []backend.Task) []backend.Task {
	out := make([]backend.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t
		if t.Position != nil {
			p := *t.Position
			out[i].Position = &p
		}
	}
	return out
}
