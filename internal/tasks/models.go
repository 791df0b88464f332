package tasks

import (
	"errors"
	"strings"
	"time"
)

// Priority ranks a task.
type Priority string

// Status places a task on the board.
type Status string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"

	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

var (
	// Priorities lists every priority from lowest to highest.
	Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}
	// Statuses lists the board columns in display order.
	Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

	ErrEmptyTitle      = errors.New("tasks.empty_title")
	ErrUnknownPriority = errors.New("tasks.unknown_priority")
	ErrUnknownStatus   = errors.New("tasks.unknown_status")
	ErrTaskNotFound    = errors.New("tasks.not_found")
	ErrEmptyCategory   = errors.New("tasks.empty_category_name")
)

// Valid reports whether priority is one of the known values.
func (priority Priority) Valid() bool {
	for _, known := range Priorities {
		if priority == known {
			return true
		}
	}
	return false
}

// Valid reports whether status is one of the board columns.
func (status Status) Valid() bool {
	for _, known := range Statuses {
		if status == known {
			return true
		}
	}
	return false
}

// ParsePriority accepts a priority name in any letter case.
func ParsePriority(raw string) (Priority, error) {
	priority := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if !priority.Valid() {
		return "", ErrUnknownPriority
	}
	return priority, nil
}

// ParseStatus accepts a column name in any letter case; "in-progress" is an alias.
func ParseStatus(raw string) (Status, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	status := Status(normalized)
	if !status.Valid() {
		return "", ErrUnknownStatus
	}
	return status, nil
}

// Task is a single to-do item as exchanged with the API.
type Task struct {
	ID           int        `json:"id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Completed    bool       `json:"completed"`
	CreatedAt    time.Time  `json:"created_at"`
	DueDate      *time.Time `json:"due_date"`
	Priority     Priority   `json:"priority,omitempty"`
	Status       Status     `json:"status,omitempty"`
	Category     *int       `json:"category"`
	CategoryName string     `json:"category_name,omitempty"`
	Position     int        `json:"position"`
}

// IsOverdue reports whether an incomplete task is past its due date.
func (task Task) IsOverdue(now time.Time) bool {
	if task.DueDate == nil || task.Completed {
		return false
	}
	return now.After(*task.DueDate)
}

// Validate checks the fields the API requires before a create or update.
func (task Task) Validate() error {
	if strings.TrimSpace(task.Title) == "" {
		return ErrEmptyTitle
	}
	if task.Priority != "" && !task.Priority.Valid() {
		return ErrUnknownPriority
	}
	if task.Status != "" && !task.Status.Valid() {
		return ErrUnknownStatus
	}
	return nil
}

// Category groups tasks.
type Category struct {
	ID    int    `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Stats summarises a task collection.
type Stats struct {
	Total      int              `json:"total"`
	Completed  int              `json:"completed"`
	Active     int              `json:"active"`
	Overdue    int              `json:"overdue"`
	ByPriority map[Priority]int `json:"by_priority"`
	ByStatus   map[Status]int   `json:"by_status"`
}
