package devapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tyemirov/todoctl/internal/tasks"
)

const detailNotFound = "Not found."

func (server *Server) mountTaskRoutes(router gin.IRouter) {
	router.GET("/tasks/", server.handleListTasks)
	router.POST("/tasks/", server.handleCreateTask)
	router.GET("/tasks/stats/", server.handleStats)
	router.GET("/tasks/:id/", server.handleGetTask)
	router.PUT("/tasks/:id/", server.handleReplaceTask)
	router.DELETE("/tasks/:id/", server.handleDeleteTask)
	router.GET("/categories/", server.handleListCategories)
	router.POST("/categories/", server.handleCreateCategory)
}

func (server *Server) handleListTasks(contextGin *gin.Context) {
	claims, _ := claimsFrom(contextGin)
	filter, err := filterFromQuery(contextGin)
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	limit := filter.Limit
	filter.Limit = 0
	listed := server.tasks.List(claims.UserID, filter)
	if limit <= 0 {
		contextGin.JSON(http.StatusOK, listed)
		return
	}
	page := listed
	if len(page) > limit {
		page = page[:limit]
	}
	contextGin.JSON(http.StatusOK, gin.H{"count": len(listed), "results": page})
}

func filterFromQuery(contextGin *gin.Context) (tasks.Filter, error) {
	filter := tasks.Filter{
		Category: contextGin.Query("category"),
		Search:   contextGin.Query("search"),
		DueDate:  contextGin.Query("due_date"),
	}
	if rawPriority := contextGin.Query("priority"); rawPriority != "" {
		priority, err := tasks.ParsePriority(rawPriority)
		if err != nil {
			return tasks.Filter{}, err
		}
		filter.Priority = priority
	}
	if rawCompleted, present := contextGin.GetQuery("completed"); present {
		completed := strings.EqualFold(strings.TrimSpace(rawCompleted), "true")
		filter.Completed = &completed
	}
	if rawLimit := contextGin.Query("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			return tasks.Filter{}, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (server *Server) handleCreateTask(contextGin *gin.Context) {
	claims, _ := claimsFrom(contextGin)
	var inbound tasks.Task
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "JSON parse error"})
		return
	}
	created, err := server.tasks.Create(claims.UserID, inbound)
	if err != nil {
		writeTaskError(contextGin, err)
		return
	}
	contextGin.JSON(http.StatusCreated, created)
}

func (server *Server) handleGetTask(contextGin *gin.Context) {
	claims, _ := claimsFrom(contextGin)
	taskID, ok := taskIDParam(contextGin)
	if !ok {
		return
	}
	task, err := server.tasks.Get(claims.UserID, taskID)
	if err != nil {
		writeTaskError(contextGin, err)
		return
	}
	contextGin.JSON(http.StatusOK, task)
}

func (server *Server) handleReplaceTask(contextGin *gin.Context) {
	claims, _ := claimsFrom(contextGin)
	taskID, ok := taskIDParam(contextGin)
	if !ok {
		return
	}
	var inbound tasks.Task
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "JSON parse error"})
		return
	}
	updated, err := server.tasks.Replace(claims.UserID, taskID, inbound)
	if err != nil {
		writeTaskError(contextGin, err)
		return
	}
	contextGin.JSON(http.StatusOK, updated)
}

func (server *Server) handleDeleteTask(contextGin *gin.Context) {
	claims, _ := claimsFrom(contextGin)
	taskID, ok := taskIDParam(contextGin)
	if !ok {
		return
	}
	if err := server.tasks.Delete(claims.UserID, taskID); err != nil {
		writeTaskError(contextGin, err)
		return
	}
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handleStats(contextGin *gin.Context) {
	claims, _ := claimsFrom(contextGin)
	contextGin.JSON(http.StatusOK, server.tasks.Stats(claims.UserID))
}

func (server *Server) handleListCategories(contextGin *gin.Context) {
	claims, _ := claimsFrom(contextGin)
	contextGin.JSON(http.StatusOK, server.tasks.Categories(claims.UserID))
}

func (server *Server) handleCreateCategory(contextGin *gin.Context) {
	claims, _ := claimsFrom(contextGin)
	var inbound tasks.Category
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "JSON parse error"})
		return
	}
	created, err := server.tasks.CreateCategory(claims.UserID, inbound)
	if err != nil {
		writeTaskError(contextGin, err)
		return
	}
	contextGin.JSON(http.StatusCreated, created)
}

func taskIDParam(contextGin *gin.Context) (int, bool) {
	taskID, err := strconv.Atoi(contextGin.Param("id"))
	if err != nil || taskID <= 0 {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
		return 0, false
	}
	return taskID, true
}

func writeTaskError(contextGin *gin.Context, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
	case errors.Is(err, tasks.ErrEmptyTitle):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"title": []string{"This field may not be blank."}})
	case errors.Is(err, tasks.ErrEmptyCategory):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"name": []string{"This field may not be blank."}})
	case errors.Is(err, tasks.ErrUnknownPriority):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"priority": []string{"Not a valid choice."}})
	case errors.Is(err, tasks.ErrUnknownStatus):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": []string{"Not a valid choice."}})
	case errors.Is(err, errUnknownCategory):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"category": []string{"Invalid pk - object does not exist."}})
	default:
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "A server error occurred."})
	}
}
