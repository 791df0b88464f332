package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tyemirov/todoctl/internal/tasks"
)

var errInvalidDueDate = errors.New("cli.invalid_due_date")

func newTasksCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "tasks",
		Short: "List and manage tasks",
	}
	command.AddCommand(
		newTasksListCommand(),
		newTasksAddCommand(),
		newTasksShowCommand(),
		newTasksDoneCommand(),
		newTasksRemoveCommand(),
		newTasksMoveCommand(),
		newTasksBoardCommand(),
	)
	return command
}

func addFilterFlags(command *cobra.Command) {
	command.Flags().String("priority", "", "Only tasks with this priority (low, medium, high)")
	command.Flags().String("category", "", "Only tasks in this category name")
	command.Flags().String("search", "", "Case-insensitive text search over title and description")
	command.Flags().String("due", "", "Only tasks due on this day (YYYY-MM-DD)")
}

func filterFromFlags(command *cobra.Command) (tasks.Filter, error) {
	filter := tasks.Filter{}
	if rawPriority, _ := command.Flags().GetString("priority"); rawPriority != "" {
		priority, err := tasks.ParsePriority(rawPriority)
		if err != nil {
			return tasks.Filter{}, err
		}
		filter.Priority = priority
	}
	filter.Category, _ = command.Flags().GetString("category")
	filter.Search, _ = command.Flags().GetString("search")
	if rawDue, _ := command.Flags().GetString("due"); rawDue != "" {
		if _, err := time.Parse("2006-01-02", rawDue); err != nil {
			return tasks.Filter{}, fmt.Errorf("%w: %s", errInvalidDueDate, rawDue)
		}
		filter.DueDate = rawDue
	}
	if command.Flags().Lookup("completed") != nil && command.Flags().Changed("completed") {
		completed, _ := command.Flags().GetBool("completed")
		filter.Completed = &completed
	}
	if command.Flags().Lookup("limit") != nil {
		filter.Limit, _ = command.Flags().GetInt("limit")
	}
	return filter, nil
}

func newTasksListCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "list",
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			filter, err := filterFromFlags(command)
			if err != nil {
				return err
			}
			listed, err := app.tasks.List(commandContext(command), filter)
			if err != nil {
				return err
			}
			if filter.Limit > 0 && len(listed) > filter.Limit {
				listed = listed[:filter.Limit]
			}
			return writeTaskTable(app.out, listed, time.Now().UTC())
		}),
	}
	addFilterFlags(command)
	command.Flags().Bool("completed", false, "Only completed (true) or open (false) tasks")
	command.Flags().Int("limit", 0, "Maximum number of tasks to show")
	return command
}

func newTasksAddCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "add <title>",
		Short:   "Create a task",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			task := tasks.Task{Title: strings.Join(arguments, " ")}
			task.Description, _ = command.Flags().GetString("description")
			if rawPriority, _ := command.Flags().GetString("priority"); rawPriority != "" {
				priority, err := tasks.ParsePriority(rawPriority)
				if err != nil {
					return err
				}
				task.Priority = priority
			}
			if rawStatus, _ := command.Flags().GetString("status"); rawStatus != "" {
				status, err := tasks.ParseStatus(rawStatus)
				if err != nil {
					return err
				}
				task.Status = status
			}
			if rawDue, _ := command.Flags().GetString("due"); rawDue != "" {
				dueDate, err := parseDueDate(rawDue)
				if err != nil {
					return err
				}
				task.DueDate = &dueDate
			}
			if categoryID, _ := command.Flags().GetInt("category-id"); categoryID > 0 {
				task.Category = &categoryID
			}
			created, err := app.tasks.Create(commandContext(command), task)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "created task %d\n", created.ID)
			return nil
		}),
	}
	command.Flags().String("description", "", "Longer description")
	command.Flags().String("priority", "", "low, medium, or high")
	command.Flags().String("status", "", "todo, in_progress, or done")
	command.Flags().String("due", "", "Due date (YYYY-MM-DD or RFC 3339)")
	command.Flags().Int("category-id", 0, "Category id as shown by categories list")
	return command
}

func newTasksShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "show <id>",
		Short:   "Show one task",
		Args:    cobra.ExactArgs(1),
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			taskID, err := parseTaskID(arguments[0])
			if err != nil {
				return err
			}
			task, err := app.tasks.Get(commandContext(command), taskID)
			if err != nil {
				return err
			}
			return writeTaskDetail(app.out, task, time.Now().UTC())
		}),
	}
}

func newTasksDoneCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "done <id>",
		Short:   "Mark a task completed",
		Args:    cobra.ExactArgs(1),
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			taskID, err := parseTaskID(arguments[0])
			if err != nil {
				return err
			}
			undo, _ := command.Flags().GetBool("undo")
			task, err := app.tasks.SetCompleted(commandContext(command), taskID, !undo)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "task %d %s\n", task.ID, checkbox(task.Completed))
			return nil
		}),
	}
	command.Flags().Bool("undo", false, "Reopen the task instead")
	return command
}

func newTasksRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			taskID, err := parseTaskID(arguments[0])
			if err != nil {
				return err
			}
			if err := app.tasks.Delete(commandContext(command), taskID); err != nil {
				return err
			}
			fmt.Fprintf(app.out, "deleted task %d\n", taskID)
			return nil
		}),
	}
}

func newTasksMoveCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "move <id> <status>",
		Short:   "Move a task to another board column",
		Args:    cobra.ExactArgs(2),
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			taskID, err := parseTaskID(arguments[0])
			if err != nil {
				return err
			}
			target, err := tasks.ParseStatus(arguments[1])
			if err != nil {
				return err
			}
			index, _ := command.Flags().GetInt("index")
			filter, err := filterFromFlags(command)
			if err != nil {
				return err
			}
			board, err := app.tasks.Board(commandContext(command), filter)
			if err != nil {
				return err
			}
			moved, err := app.tasks.MoveTask(commandContext(command), &board, filter, taskID, target, index)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "task %d is now %s at position %d\n", moved.ID, moved.Status, moved.Position)
			return nil
		}),
	}
	addFilterFlags(command)
	command.Flags().Int("index", 0, "Position within the target column")
	return command
}

func newTasksBoardCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "board",
		Short:   "Show tasks grouped by status",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			filter, err := filterFromFlags(command)
			if err != nil {
				return err
			}
			board, err := app.tasks.Board(commandContext(command), filter)
			if err != nil {
				return err
			}
			return writeBoard(app.out, board)
		}),
	}
	addFilterFlags(command)
	return command
}

func newCategoriesCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "categories",
		Short: "List and create categories",
	}
	list := &cobra.Command{
		Use:     "list",
		Short:   "List categories",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			categories, err := app.tasks.ListCategories(commandContext(command))
			if err != nil {
				return err
			}
			writer := newTableWriter(app.out)
			fmt.Fprintln(writer, "ID\tNAME\tCOLOR")
			for _, category := range categories {
				fmt.Fprintf(writer, "%d\t%s\t%s\n", category.ID, category.Name, orDash(category.Color))
			}
			return writer.Flush()
		}),
	}
	add := &cobra.Command{
		Use:     "add <name>",
		Short:   "Create a category",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			color, _ := command.Flags().GetString("color")
			created, err := app.tasks.CreateCategory(commandContext(command), tasks.Category{Name: strings.Join(arguments, " "), Color: color})
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "created category %d\n", created.ID)
			return nil
		}),
	}
	add.Flags().String("color", "", "Display color, e.g. #3b82f6")
	command.AddCommand(list, add)
	return command
}

func newStatsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "stats",
		Short:   "Show task statistics and the most recent tasks",
		Args:    cobra.NoArgs,
		PreRunE: prepareClientConfig,
		RunE: withApplication(func(command *cobra.Command, arguments []string, app *application) error {
			stats, err := app.tasks.Stats(commandContext(command))
			if err != nil {
				return err
			}
			if err := writeStats(app.out, stats); err != nil {
				return err
			}
			recentCount, _ := command.Flags().GetInt("recent")
			if recentCount <= 0 {
				return nil
			}
			recent, err := app.tasks.Recent(commandContext(command), recentCount)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.out)
			return writeTaskTable(app.out, recent, time.Now().UTC())
		}),
	}
	command.Flags().Int("recent", 5, "Number of recent tasks to list; 0 disables")
	return command
}

func parseTaskID(raw string) (int, error) {
	taskID, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(raw), "#"))
	if err != nil || taskID <= 0 {
		return 0, fmt.Errorf("invalid task id %q", raw)
	}
	return taskID, nil
}

func parseDueDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		return day.UTC(), nil
	}
	if instant, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return instant.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s", errInvalidDueDate, raw)
}
