package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type TaskType string

const (
	TypeScheduleReminder TaskType = "lesson.schedule_reminder"
	TypeSendReminder     TaskType = "lesson.send_reminder"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusDone      TaskStatus = "done"
	StatusCancelled TaskStatus = "cancelled"
	StatusDead      TaskStatus = "dead"
)

// Task is one durable unit of deferred work. Rows are never mutated after
// creation except for status, attempts and the claim lease.
type Task struct {
	ID           string
	Type         TaskType
	Payload      json.RawMessage
	FireAt       time.Time
	Status       TaskStatus
	Attempts     int
	ClaimedUntil *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReminderPayload is the tagged payload shared by both task types.
// StartAt is an RFC3339 string with offset so the payload survives the
// broker round-trip without losing the zone.
type ReminderPayload struct {
	Title         string `json:"title" validate:"required"`
	StartAt       string `json:"start_at" validate:"required"`
	IsEarlyNotice bool   `json:"is_early_notice"`
}

func MarshalPayload(p ReminderPayload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

func UnmarshalPayload(raw json.RawMessage) (ReminderPayload, error) {
	var p ReminderPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ReminderPayload{}, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if p.Title == "" || p.StartAt == "" {
		return ReminderPayload{}, fmt.Errorf("payload missing required fields")
	}
	return p, nil
}

// Lesson is the read-only snapshot handed over by the lesson catalogue.
type Lesson struct {
	Title   string
	StartAt time.Time
}

var (
	ErrNotFound     = errors.New("task not found")
	ErrCannotCancel = errors.New("cannot cancel non-pending task")
)
