// Package vault implements the content-addressed entity store: atomic
// read/write, advisory per-id locking, and the task finite-state machine
// guard. It is the only package permitted to touch entity files on disk;
// every other component reaches the vault through the host API.
package vault

import (
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/utils"
)

// Type is the closed set of entity kinds the vault understands.
type Type string

const (
	TypeTask       Type = "task"
	TypeNote       Type = "note"
	TypeEvent      Type = "event"
	TypeRollup     Type = "rollup"
	TypeInboxItem  Type = "inbox_item"
)

// ValidTypes lists every recognized entity type, in a stable order.
var ValidTypes = []Type{TypeTask, TypeNote, TypeEvent, TypeRollup, TypeInboxItem}

func (t Type) Valid() bool {
	for _, v := range ValidTypes {
		if v == t {
			return true
		}
	}
	return false
}

// dirName returns the on-disk directory segment for a type, e.g. "tasks".
func (t Type) dirName() string {
	return string(t) + "s"
}

// TaskStatus is the closed set of task FSM states.
type TaskStatus string

const (
	StatusTodo    TaskStatus = "todo"
	StatusDoing   TaskStatus = "doing"
	StatusBlocked TaskStatus = "blocked"
	StatusReview  TaskStatus = "review"
	StatusDone    TaskStatus = "done"
)

// taskTransitions enumerates the allowed FSM edges; the zero value (empty
// pre-state) is used when creating a task, which may start in any state but
// conventionally starts in todo.
var taskTransitions = map[TaskStatus][]TaskStatus{
	StatusTodo:    {StatusDoing},
	StatusDoing:   {StatusBlocked, StatusReview, StatusDone},
	StatusBlocked: {StatusDoing},
	StatusReview:  {StatusDoing, StatusDone},
	StatusDone:    {StatusDoing},
}

// ValidateTransition reports whether moving a task from `from` to `to` is an
// allowed FSM edge. Staying in the same state is always permitted (callers
// may re-save a task without changing its status).
func ValidateTransition(from, to TaskStatus) error {
	if from == to {
		return nil
	}
	for _, next := range taskTransitions[from] {
		if next == to {
			return nil
		}
	}
	return kerrors.InvalidTransition(string(from), string(to), "not a member of the FSM successor set")
}

// Entity is the universal vault object: every task, note, event, rollup and
// inbox_item is one of these, differing only in `Type` and the contents of
// `Metadata`.
type Entity struct {
	ID        string                 `yaml:"id"`
	Type      Type                   `yaml:"type"`
	Metadata  map[string]interface{} `yaml:"metadata"`
	Content   string                 `yaml:"-"`
	CreatedTS time.Time              `yaml:"created_ts"`
	UpdatedTS time.Time              `yaml:"updated_ts"`
	DoneTS    *time.Time             `yaml:"done_ts,omitempty"`
}

// Status returns the task status metadata field, or "" if absent/not a task.
func (e *Entity) Status() TaskStatus {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["status"].(string); ok {
		return TaskStatus(v)
	}
	return ""
}

// Clone returns a deep-enough copy for safe mutation by callers (Metadata is
// copied one level deep, matching the merge semantics update_entity uses).
func (e *Entity) Clone() *Entity {
	out := *e
	out.Metadata = make(map[string]interface{}, len(e.Metadata))
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	if e.DoneTS != nil {
		out.DoneTS = utils.Ptr(*e.DoneTS)
	}
	return &out
}
