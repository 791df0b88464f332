package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/todoctl/internal/session"
)

const (
	tasksPath      = "tasks/"
	statsPath      = "tasks/stats/"
	categoriesPath = "categories/"

	defaultRecentLimit = 5
)

// Requester performs a JSON call relative to the API base URL. *session.Client
// satisfies it, so every call goes through the authenticated pipeline.
type Requester interface {
	Do(ctx context.Context, method string, path string, payload any, out any) error
}

// Service is the task API client.
type Service struct {
	requester Requester
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires a Service to requester.
func NewService(requester Requester, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		requester: requester,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List fetches tasks matching filter.
func (service *Service) List(ctx context.Context, filter Filter) ([]Task, error) {
	path := tasksPath
	if query := filter.Query().Encode(); query != "" {
		path += "?" + query
	}
	var raw json.RawMessage
	if err := service.requester.Do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("tasks.list: %w", err)
	}
	tasks, err := decodeTaskList(raw)
	if err != nil {
		return nil, fmt.Errorf("tasks.list.decode: %w", err)
	}
	return tasks, nil
}

// decodeTaskList accepts a bare array or a paginated {"results": [...]} body.
func decodeTaskList(raw json.RawMessage) ([]Task, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Task{}, nil
	}
	if trimmed[0] == '[' {
		var tasks []Task
		if err := json.Unmarshal(trimmed, &tasks); err != nil {
			return nil, err
		}
		return tasks, nil
	}
	var page struct {
		Results []Task `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, err
	}
	if page.Results == nil {
		return []Task{}, nil
	}
	return page.Results, nil
}

// Recent returns at most limit tasks from the head of the listing.
func (service *Service) Recent(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	tasks, err := service.List(ctx, Filter{Limit: limit})
	if err != nil {
		return nil, err
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// Get fetches one task.
func (service *Service) Get(ctx context.Context, taskID int) (Task, error) {
	var task Task
	if err := service.requester.Do(ctx, http.MethodGet, taskPath(taskID), nil, &task); err != nil {
		return Task{}, fmt.Errorf("tasks.get: %w", mapNotFound(err))
	}
	return task, nil
}

// Create validates and posts a new task.
func (service *Service) Create(ctx context.Context, task Task) (Task, error) {
	if err := task.Validate(); err != nil {
		return Task{}, fmt.Errorf("tasks.create: %w", err)
	}
	var created Task
	if err := service.requester.Do(ctx, http.MethodPost, tasksPath, task, &created); err != nil {
		return Task{}, fmt.Errorf("tasks.create: %w", err)
	}
	return created, nil
}

// Update replaces a task.
func (service *Service) Update(ctx context.Context, task Task) (Task, error) {
	if err := task.Validate(); err != nil {
		return Task{}, fmt.Errorf("tasks.update: %w", err)
	}
	var updated Task
	if err := service.requester.Do(ctx, http.MethodPut, taskPath(task.ID), task, &updated); err != nil {
		return Task{}, fmt.Errorf("tasks.update: %w", mapNotFound(err))
	}
	return updated, nil
}

// SetCompleted fetches a task and stores it with the given completion flag.
func (service *Service) SetCompleted(ctx context.Context, taskID int, completed bool) (Task, error) {
	task, err := service.Get(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	task.Completed = completed
	if completed {
		task.Status = StatusDone
	} else if task.Status == StatusDone {
		task.Status = StatusTodo
	}
	return service.Update(ctx, task)
}

// Delete removes a task.
func (service *Service) Delete(ctx context.Context, taskID int) error {
	if err := service.requester.Do(ctx, http.MethodDelete, taskPath(taskID), nil, nil); err != nil {
		return fmt.Errorf("tasks.delete: %w", mapNotFound(err))
	}
	return nil
}

// ListCategories fetches every category.
func (service *Service) ListCategories(ctx context.Context) ([]Category, error) {
	categories := []Category{}
	if err := service.requester.Do(ctx, http.MethodGet, categoriesPath, nil, &categories); err != nil {
		return nil, fmt.Errorf("tasks.categories.list: %w", err)
	}
	return categories, nil
}

// CreateCategory posts a new category.
func (service *Service) CreateCategory(ctx context.Context, category Category) (Category, error) {
	if strings.TrimSpace(category.Name) == "" {
		return Category{}, fmt.Errorf("tasks.categories.create: %w", ErrEmptyCategory)
	}
	var created Category
	if err := service.requester.Do(ctx, http.MethodPost, categoriesPath, category, &created); err != nil {
		return Category{}, fmt.Errorf("tasks.categories.create: %w", err)
	}
	return created, nil
}

// Stats fetches server statistics and falls back to computing them from the full
// listing when the server has no stats endpoint.
func (service *Service) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := service.requester.Do(ctx, http.MethodGet, statsPath, nil, &stats)
	if err == nil {
		return stats, nil
	}
	var requestError *session.RequestError
	if !errors.As(err, &requestError) || requestError.StatusCode != http.StatusNotFound {
		return Stats{}, fmt.Errorf("tasks.stats: %w", err)
	}
	service.logger.Debug("stats endpoint unavailable; computing locally",
		zap.String("code", "tasks.stats.fallback"))
	tasks, listErr := service.List(ctx, Filter{})
	if listErr != nil {
		return Stats{}, listErr
	}
	return ComputeStats(tasks, service.now()), nil
}

// Board fetches the filtered listing grouped into columns.
func (service *Service) Board(ctx context.Context, filter Filter) (Board, error) {
	tasks, err := service.List(ctx, filter)
	if err != nil {
		return Board{}, err
	}
	return GroupByStatus(tasks), nil
}

// MoveTask moves a task on board optimistically and persists the new status and
// position. When the update fails the board is re-fetched with filter, or restored to
// its previous layout if that fetch fails too, and the update error is returned.
func (service *Service) MoveTask(ctx context.Context, board *Board, filter Filter, taskID int, target Status, index int) (Task, error) {
	snapshot := board.Clone()
	moved, changed, err := board.Move(taskID, target, index)
	if err != nil {
		return Task{}, fmt.Errorf("tasks.move: %w", err)
	}
	if !changed {
		return moved, nil
	}
	persisted, updateErr := service.Update(ctx, moved)
	if updateErr == nil {
		board.replace(persisted)
		return persisted, nil
	}

	service.logger.Warn("task move rejected; reloading board",
		zap.String("code", "tasks.move.rollback"),
		zap.Int("task_id", taskID),
		zap.Error(updateErr))
	refreshed, fetchErr := service.Board(ctx, filter)
	if fetchErr != nil {
		service.logger.Error("board reload failed",
			zap.String("code", "tasks.move.reload_failed"),
			zap.Error(fetchErr))
		*board = snapshot
		return Task{}, fmt.Errorf("tasks.move: %w", updateErr)
	}
	*board = refreshed
	return Task{}, fmt.Errorf("tasks.move: %w", updateErr)
}

func taskPath(taskID int) string {
	return fmt.Sprintf("%s%d/", tasksPath, taskID)
}

func mapNotFound(err error) error {
	var requestError *session.RequestError
	if errors.As(err, &requestError) && requestError.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrTaskNotFound, err)
	}
	return err
}
