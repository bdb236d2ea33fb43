// Package mapper converts between stored records and task values.
package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/BuzzLyutic/todo-store/internal/model"
)

// ToRecord copies every field of t onto r.
func ToRecord(t model.Task, r *model.Record) {
	title := t.Title
	createdAt := t.CreatedAt

	r.ID = t.ID
	r.Title = &title
	r.Details = copyString(t.Details)
	r.CreatedAt = &createdAt
	r.IsCompleted = t.IsCompleted
}

// ToTask returns false when the record lacks a title or a creation time.
func ToTask(r model.Record) (model.Task, bool) {
	if r.Title == nil || r.CreatedAt == nil {
		return model.Task{}, false
	}
	return model.Task{
		ID:          r.ID,
		Title:       *r.Title,
		Details:     copyString(r.Details),
		CreatedAt:   *r.CreatedAt,
		IsCompleted: r.IsCompleted,
	}, true
}

// ToTasks maps records in order and drops the ones ToTask rejects.
func ToTasks(records []model.Record) []model.Task {
	tasks := make([]model.Task, 0, len(records))
	for _, r := range records {
		if t, ok := ToTask(r); ok {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// FromRemote builds the local task imported for a remote seed entry.
func FromRemote(rt model.RemoteTodo, createdAt time.Time) model.Task {
	var details *string
	if rt.IsDone {
		details = model.StringPtr(fmt.Sprintf("Completed task from user %d", rt.OwnerID))
	}
	return model.Task{
		ID:          rt.RemoteID,
		Title:       strings.TrimSpace(rt.Text),
		Details:     details,
		CreatedAt:   createdAt,
		IsCompleted: rt.IsDone,
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
