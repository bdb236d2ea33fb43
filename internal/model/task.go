package model

import "time"

type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Details     *string   `json:"details,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	IsCompleted bool      `json:"is_completed"`
}

// Record is the storage-native row. Title and CreatedAt may be missing on
// rows written by older builds or other tools.
type Record struct {
	ID          int64
	Title       *string
	Details     *string
	CreatedAt   *time.Time
	IsCompleted bool
}

// RemoteTodo is one entry of the seed list served by the remote todo service.
type RemoteTodo struct {
	RemoteID int64  `json:"id"`
	Text     string `json:"todo"`
	IsDone   bool   `json:"completed"`
	OwnerID  int64  `json:"userId"`
}

// Changes describes what one committed write transaction did.
type Changes struct {
	Inserted []Record
	Updated  []Record
	Deleted  []int64
}

func (c Changes) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

func StringPtr(s string) *string {
	return &s
}

// TaskPatch lists the fields an edit changes. Nil fields are left alone; an
// empty Details clears the details.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Details     *string `json:"details,omitempty"`
	IsCompleted *bool   `json:"is_completed,omitempty"`
}
