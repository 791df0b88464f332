package tasks

import (
	"testing"
	"time"
)

func TestFilterQuery(t *testing.T) {
	t.Parallel()

	completed := false
	query := Filter{
		Priority:  PriorityHigh,
		Category:  " Work ",
		Search:    "report",
		Completed: &completed,
		DueDate:   "2024-05-01",
		Limit:     5,
	}.Query()

	expected := map[string]string{
		"priority":  "high",
		"category":  "Work",
		"search":    "report",
		"completed": "false",
		"due_date":  "2024-05-01",
		"limit":     "5",
	}
	for key, value := range expected {
		if query.Get(key) != value {
			t.Fatalf("expected %s=%s, got %q", key, value, query.Get(key))
		}
	}
	if encoded := (Filter{}).Query().Encode(); encoded != "" {
		t.Fatalf("expected empty query, got %q", encoded)
	}
}

func TestFilterTasks(t *testing.T) {
	t.Parallel()

	due := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	all := []Task{
		{ID: 1, Title: "Quarterly report", Priority: PriorityHigh, CategoryName: "Work", DueDate: &due},
		{ID: 2, Title: "Groceries", Description: "milk and REPORT cards", Priority: PriorityLow, CategoryName: "Home", Completed: true},
		{ID: 3, Title: "Gym", Priority: PriorityHigh, CategoryName: "Health"},
	}
	completed := true

	testCases := []struct {
		name     string
		filter   Filter
		expected []int
	}{
		{name: "no filter", filter: Filter{}, expected: []int{1, 2, 3}},
		{name: "priority", filter: Filter{Priority: PriorityHigh}, expected: []int{1, 3}},
		{name: "category ignores case", filter: Filter{Category: "work"}, expected: []int{1}},
		{name: "search title and description", filter: Filter{Search: "Report"}, expected: []int{1, 2}},
		{name: "completed", filter: Filter{Completed: &completed}, expected: []int{2}},
		{name: "due date", filter: Filter{DueDate: "2024-05-01"}, expected: []int{1}},
		{name: "limit", filter: Filter{Priority: PriorityHigh, Limit: 1}, expected: []int{1}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			matched := FilterTasks(all, testCase.filter)
			ids := []int{}
			for _, task := range matched {
				ids = append(ids, task.ID)
			}
			if !equalIDs(ids, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, ids)
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	stats := ComputeStats([]Task{
		{ID: 1, Priority: PriorityHigh, Status: StatusTodo, DueDate: &past},
		{ID: 2, Priority: PriorityHigh, Status: StatusDone, Completed: true, DueDate: &past},
		{ID: 3, Priority: PriorityLow, Status: StatusInProgress, DueDate: &future},
	}, now)

	if stats.Total != 3 || stats.Completed != 1 || stats.Active != 2 || stats.Overdue != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.ByPriority[PriorityHigh] != 2 || stats.ByPriority[PriorityMedium] != 0 || stats.ByPriority[PriorityLow] != 1 {
		t.Fatalf("unexpected priority counts: %v", stats.ByPriority)
	}
	if stats.ByStatus[StatusTodo] != 1 || stats.ByStatus[StatusInProgress] != 1 || stats.ByStatus[StatusDone] != 1 {
		t.Fatalf("unexpected status counts: %v", stats.ByStatus)
	}
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	if priority, err := ParsePriority(" HIGH "); err != nil || priority != PriorityHigh {
		t.Fatalf("unexpected priority %q (%v)", priority, err)
	}
	if _, err := ParsePriority("urgent"); err != ErrUnknownPriority {
		t.Fatalf("expected ErrUnknownPriority, got %v", err)
	}
	if status, err := ParseStatus("In-Progress"); err != nil || status != StatusInProgress {
		t.Fatalf("unexpected status %q (%v)", status, err)
	}
	if err := (Task{Title: " "}).Validate(); err != ErrEmptyTitle {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
}
