package backend

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CreatedLayout is the display format of Task.Created
const CreatedLayout = "15:04"

// Task represents a todo item
type Task struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	Created   string    `json:"time"`
	Position  *Position `json:"-"` // Tabular backend only, never persisted
}

// Position addresses a task by its row in a tabular store. It is only
// meaningful together with the list snapshot (Generation) it was derived from.
type Position struct {
	Index      int    // 0-based task index, the first row after the header is 0
	Generation uint64 // snapshot the index was read from
}

// TaskRef identifies a task for update and delete operations. Stores that
// scope rows by owner must only touch rows belonging to Owner.
type TaskRef struct {
	ID       string
	Owner    string
	Position *Position
}

// Ref returns a reference to the task for SetCompleted and Remove
func (t Task) Ref() TaskRef {
	ref := TaskRef{ID: t.ID}
	if t.Position != nil {
		p := *t.Position
		ref.Position = &p
	}
	return ref
}

// Store defines the interface for task storage backends.
// One store is active at a time; they are never composed.
type Store interface {
	// List returns all tasks owned by owner in creation order.
	List(ctx context.Context, owner string) ([]Task, error)
	// Create persists draft.Text as a new, not completed task. Backends that
	// accept client ids echo draft.ID back; others return their own.
	Create(ctx context.Context, owner string, draft Task) (*Task, error)
	// SetCompleted updates only the completion flag.
	SetCompleted(ctx context.Context, ref TaskRef, completed bool) error
	// Remove deletes the task.
	Remove(ctx context.Context, ref TaskRef) error

	Close() error
}

// Positional is implemented by stores that address rows by position.
// Any insert or delete bumps the generation, invalidating cached positions.
type Positional interface {
	Generation() uint64
	PositionValid(p Position) bool
}

// ActivityKind is the kind of session event recorded by an ActivityLogger
type ActivityKind string

const (
	ActivityLogin  ActivityKind = "LOGIN"
	ActivityLogout ActivityKind = "LOGOUT"
)

// Activity is a login or logout event
type Activity struct {
	Email string
	Name  string
	Kind  ActivityKind
	At    time.Time
}

// ActivityLogger is implemented by stores that keep a session activity log
type ActivityLogger interface {
	LogActivity(ctx context.Context, a Activity) error
}

// GenerateID generates a unique identifier using UUID v4.
// Used for the temporary id of a task that has not been confirmed yet.
func GenerateID() string {
	return uuid.New().String()
}

// FormatCreated formats a creation time for Task.Created
func FormatCreated(t time.Time) string {
	return t.Format(CreatedLayout)
}

// FindTask returns the index of the task with the given id, or -1
func FindTask(tasks []Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}
