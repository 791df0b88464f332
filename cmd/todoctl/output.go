package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tyemirov/todoctl/internal/tasks"
)

func newTableWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func writeTaskTable(out io.Writer, listed []tasks.Task, now time.Time) error {
	if len(listed) == 0 {
		_, err := fmt.Fprintln(out, "no tasks")
		return err
	}
	writer := newTableWriter(out)
	fmt.Fprintln(writer, "ID\tDONE\tPRIORITY\tSTATUS\tCATEGORY\tDUE\tTITLE")
	for _, task := range listed {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			task.ID,
			checkbox(task.Completed),
			orDash(string(task.Priority)),
			orDash(string(task.Status)),
			orDash(task.CategoryName),
			dueLabel(task, now),
			task.Title)
	}
	return writer.Flush()
}

func writeTaskDetail(out io.Writer, task tasks.Task, now time.Time) error {
	writer := newTableWriter(out)
	fmt.Fprintf(writer, "id\t%d\n", task.ID)
	fmt.Fprintf(writer, "title\t%s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(writer, "description\t%s\n", task.Description)
	}
	fmt.Fprintf(writer, "completed\t%t\n", task.Completed)
	fmt.Fprintf(writer, "priority\t%s\n", orDash(string(task.Priority)))
	fmt.Fprintf(writer, "status\t%s\n", orDash(string(task.Status)))
	fmt.Fprintf(writer, "category\t%s\n", orDash(task.CategoryName))
	fmt.Fprintf(writer, "due\t%s\n", dueLabel(task, now))
	if !task.CreatedAt.IsZero() {
		fmt.Fprintf(writer, "created\t%s\n", task.CreatedAt.Format(time.RFC3339))
	}
	return writer.Flush()
}

func writeBoard(out io.Writer, board tasks.Board) error {
	for index, status := range tasks.Statuses {
		if index > 0 {
			fmt.Fprintln(out)
		}
		column := board.Column(status)
		fmt.Fprintf(out, "== %s (%d)\n", strings.ToUpper(string(status)), len(column))
		for position, task := range column {
			fmt.Fprintf(out, "  %d. [#%d] %s\n", position, task.ID, task.Title)
		}
	}
	return nil
}

func writeStats(out io.Writer, stats tasks.Stats) error {
	writer := newTableWriter(out)
	fmt.Fprintf(writer, "total\t%d\n", stats.Total)
	fmt.Fprintf(writer, "completed\t%d\n", stats.Completed)
	fmt.Fprintf(writer, "active\t%d\n", stats.Active)
	fmt.Fprintf(writer, "overdue\t%d\n", stats.Overdue)
	for _, priority := range tasks.Priorities {
		fmt.Fprintf(writer, "priority %s\t%d\n", priority, stats.ByPriority[priority])
	}
	for _, status := range tasks.Statuses {
		fmt.Fprintf(writer, "status %s\t%d\n", status, stats.ByStatus[status])
	}
	return writer.Flush()
}

func dueLabel(task tasks.Task, now time.Time) string {
	if task.DueDate == nil {
		return "-"
	}
	label := task.DueDate.UTC().Format("2006-01-02")
	if task.IsOverdue(now) {
		label += " (overdue)"
	}
	return label
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
