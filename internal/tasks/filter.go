package tasks

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const dueDateLayout = "2006-01-02"

// Filter narrows a task listing. Zero values match everything.
type Filter struct {
	Priority  Priority
	Category  string
	Search    string
	Completed *bool
	// DueDate is a calendar day in YYYY-MM-DD form.
	DueDate string
	Limit   int
}

// Query encodes the filter as list query parameters.
func (filter Filter) Query() url.Values {
	values := url.Values{}
	if filter.Priority != "" {
		values.Set("priority", string(filter.Priority))
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		values.Set("category", category)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		values.Set("search", search)
	}
	if filter.Completed != nil {
		values.Set("completed", strconv.FormatBool(*filter.Completed))
	}
	if dueDate := strings.TrimSpace(filter.DueDate); dueDate != "" {
		values.Set("due_date", dueDate)
	}
	if filter.Limit > 0 {
		values.Set("limit", strconv.Itoa(filter.Limit))
	}
	return values
}

// Matches applies the filter to a single task. Limit is ignored.
func (filter Filter) Matches(task Task) bool {
	if filter.Priority != "" && task.Priority != filter.Priority {
		return false
	}
	if category := strings.TrimSpace(filter.Category); category != "" && !strings.EqualFold(task.CategoryName, category) {
		return false
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		haystack := strings.ToLower(task.Title + "\n" + task.Description)
		if !strings.Contains(haystack, search) {
			return false
		}
	}
	if filter.Completed != nil && task.Completed != *filter.Completed {
		return false
	}
	if dueDate := strings.TrimSpace(filter.DueDate); dueDate != "" {
		if task.DueDate == nil || task.DueDate.UTC().Format(dueDateLayout) != dueDate {
			return false
		}
	}
	return true
}

// FilterTasks returns the tasks matching filter, preserving order and honouring Limit.
func FilterTasks(tasks []Task, filter Filter) []Task {
	matched := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if !filter.Matches(task) {
			continue
		}
		matched = append(matched, task)
		if filter.Limit > 0 && len(matched) == filter.Limit {
			break
		}
	}
	return matched
}

// ComputeStats derives statistics locally.
func ComputeStats(tasks []Task, now time.Time) Stats {
	stats := Stats{
		ByPriority: make(map[Priority]int, len(Priorities)),
		ByStatus:   make(map[Status]int, len(Statuses)),
	}
	for _, priority := range Priorities {
		stats.ByPriority[priority] = 0
	}
	for _, status := range Statuses {
		stats.ByStatus[status] = 0
	}
	for _, task := range tasks {
		stats.Total++
		if task.Completed {
			stats.Completed++
		}
		if task.IsOverdue(now) {
			stats.Overdue++
		}
		if task.Priority != "" {
			stats.ByPriority[task.Priority]++
		}
		if task.Status != "" {
			stats.ByStatus[task.Status]++
		}
	}
	stats.Active = stats.Total - stats.Completed
	return stats
}
