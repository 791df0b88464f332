package devapi

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/tyemirov/todoctl/internal/tasks"
)

const defaultCategoryColor = "#3b82f6"

var errUnknownCategory = errors.New("devapi.tasks.unknown_category")

// TaskStore keeps every user's tasks and categories in memory. Each user sees only
// their own records.
type TaskStore struct {
	mutex          sync.RWMutex
	clock          Clock
	nextTaskID     int
	nextCategoryID int
	tasks          map[int]ownedTask
	categories     map[int]ownedCategory
}

type ownedTask struct {
	ownerID int
	task    tasks.Task
}

type ownedCategory struct {
	ownerID  int
	category tasks.Category
}

// NewTaskStore builds an empty store. A nil clock uses the system clock.
func NewTaskStore(clock Clock) *TaskStore {
	if clock == nil {
		clock = systemClock{}
	}
	return &TaskStore{
		clock:      clock,
		tasks:      make(map[int]ownedTask),
		categories: make(map[int]ownedCategory),
	}
}

// List returns the owner's tasks ordered by position, newest first within a position.
func (store *TaskStore) List(ownerID int, filter tasks.Filter) []tasks.Task {
	store.mutex.RLock()
	owned := make([]tasks.Task, 0)
	for _, entry := range store.tasks {
		if entry.ownerID == ownerID {
			owned = append(owned, store.decorate(entry.task))
		}
	}
	store.mutex.RUnlock()

	sort.SliceStable(owned, func(left int, right int) bool {
		if owned[left].Position != owned[right].Position {
			return owned[left].Position < owned[right].Position
		}
		if !owned[left].CreatedAt.Equal(owned[right].CreatedAt) {
			return owned[left].CreatedAt.After(owned[right].CreatedAt)
		}
		return owned[left].ID > owned[right].ID
	})
	return tasks.FilterTasks(owned, filter)
}

// Get returns one of the owner's tasks.
func (store *TaskStore) Get(ownerID int, taskID int) (tasks.Task, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	entry, ok := store.tasks[taskID]
	if !ok || entry.ownerID != ownerID {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	return store.decorate(entry.task), nil
}

// Create stores a task with server defaults applied.
func (store *TaskStore) Create(ownerID int, task tasks.Task) (tasks.Task, error) {
	normalized, err := normalizeTask(task)
	if err != nil {
		return tasks.Task{}, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.checkCategory(ownerID, normalized.Category); err != nil {
		return tasks.Task{}, err
	}
	store.nextTaskID++
	normalized.ID = store.nextTaskID
	normalized.CreatedAt = store.clock.Now()
	store.tasks[normalized.ID] = ownedTask{ownerID: ownerID, task: normalized}
	return store.decorate(normalized), nil
}

// Replace overwrites a task, keeping its id and creation time.
func (store *TaskStore) Replace(ownerID int, taskID int, task tasks.Task) (tasks.Task, error) {
	normalized, err := normalizeTask(task)
	if err != nil {
		return tasks.Task{}, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	existing, ok := store.tasks[taskID]
	if !ok || existing.ownerID != ownerID {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	if err := store.checkCategory(ownerID, normalized.Category); err != nil {
		return tasks.Task{}, err
	}
	normalized.ID = taskID
	normalized.CreatedAt = existing.task.CreatedAt
	store.tasks[taskID] = ownedTask{ownerID: ownerID, task: normalized}
	return store.decorate(normalized), nil
}

// Delete removes one of the owner's tasks.
func (store *TaskStore) Delete(ownerID int, taskID int) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	existing, ok := store.tasks[taskID]
	if !ok || existing.ownerID != ownerID {
		return tasks.ErrTaskNotFound
	}
	delete(store.tasks, taskID)
	return nil
}

// Stats computes the owner's statistics.
func (store *TaskStore) Stats(ownerID int) tasks.Stats {
	return tasks.ComputeStats(store.List(ownerID, tasks.Filter{}), store.clock.Now())
}

// Categories lists the owner's categories by id.
func (store *TaskStore) Categories(ownerID int) []tasks.Category {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	owned := make([]tasks.Category, 0)
	for _, entry := range store.categories {
		if entry.ownerID == ownerID {
			owned = append(owned, entry.category)
		}
	}
	sort.Slice(owned, func(left int, right int) bool { return owned[left].ID < owned[right].ID })
	return owned
}

// CreateCategory stores a category for the owner.
func (store *TaskStore) CreateCategory(ownerID int, category tasks.Category) (tasks.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return tasks.Category{}, tasks.ErrEmptyCategory
	}
	if strings.TrimSpace(category.Color) == "" {
		category.Color = defaultCategoryColor
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.nextCategoryID++
	category.ID = store.nextCategoryID
	store.categories[category.ID] = ownedCategory{ownerID: ownerID, category: category}
	return category, nil
}

func (store *TaskStore) checkCategory(ownerID int, categoryID *int) error {
	if categoryID == nil {
		return nil
	}
	entry, ok := store.categories[*categoryID]
	if !ok || entry.ownerID != ownerID {
		return errUnknownCategory
	}
	return nil
}

// decorate fills read-only fields; callers hold the lock.
func (store *TaskStore) decorate(task tasks.Task) tasks.Task {
	task.CategoryName = ""
	if task.Category != nil {
		if entry, ok := store.categories[*task.Category]; ok {
			task.CategoryName = entry.category.Name
		}
	}
	return task
}

func normalizeTask(task tasks.Task) (tasks.Task, error) {
	task.Title = strings.TrimSpace(task.Title)
	if task.Priority == "" {
		task.Priority = tasks.PriorityMedium
	}
	if task.Status == "" {
		task.Status = tasks.StatusTodo
	}
	if err := task.Validate(); err != nil {
		return tasks.Task{}, err
	}
	return task, nil
}
