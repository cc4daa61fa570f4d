package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskmaster/internal/api/middleware"
	"taskmaster/internal/api/policy"
	"taskmaster/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type createTaskRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description" binding:"required"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	AssignedTo  *uint      `json:"assignedTo"`
}

type updateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	AssignedTo  *uint      `json:"assignedTo"`
}

// userRef 是嵌在任务响应里的用户引用。
type userRef struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// taskView 是对外暴露的任务结构。
type taskView struct {
	ID          uint       `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedBy   *userRef   `json:"createdBy"`
	AssignedTo  *userRef   `json:"assignedTo"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func newTaskView(t *model.Task) taskView {
	view := taskView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.CreatedBy.ID != 0 {
		view.CreatedBy = &userRef{ID: t.CreatedBy.ID, Name: t.CreatedBy.Name, Email: t.CreatedBy.Email}
	}
	if t.AssignedTo != nil && t.AssignedTo.ID != 0 {
		view.AssignedTo = &userRef{ID: t.AssignedTo.ID, Name: t.AssignedTo.Name, Email: t.AssignedTo.Email}
	}
	return view
}

func newTaskViews(tasks []model.Task) []taskView {
	views := make([]taskView, 0, len(tasks))
	for i := range tasks {
		views = append(views, newTaskView(&tasks[i]))
	}
	return views
}

// handleListTasks 返回当前用户可见的任务分页。
//
// GET /api/v1/tasks?status=&priority=&search=&page=&limit=
func (s *Server) handleListTasks(c *gin.Context) {
	viewer := middleware.CurrentUser(c)

	filter := TaskFilter{
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
		Search:   strings.TrimSpace(c.Query("search")),
	}
	if filter.Status != "" && !model.ValidStatus(filter.Status) {
		respondError(c, http.StatusBadRequest, "Invalid status value")
		return
	}
	if filter.Priority != "" && !model.ValidPriority(filter.Priority) {
		respondError(c, http.StatusBadRequest, "Invalid priority value")
		return
	}

	page, limit, ok := s.parsePagination(c)
	if !ok {
		return
	}
	filter.Page = page
	filter.Limit = limit

	tasks, total, err := s.tasks.ListTasks(c.Request.Context(), viewer, filter)
	if err != nil {
		s.logger.Error("list tasks failed", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "Server error")
		return
	}

	pages := int64(0)
	if total > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	respondOK(c, http.StatusOK, "", gin.H{
		"tasks": newTaskViews(tasks),
		"pagination": gin.H{
			"current": page,
			"limit":   limit,
			"total":   total,
			"pages":   pages,
		},
	})
}

// handleGetTask 返回单个任务。
//
// GET /api/v1/tasks/:id
func (s *Server) handleGetTask(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	id, ok := parseID(c)
	if !ok {
		return
	}

	task, err := s.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		s.respondTaskError(c, err)
		return
	}
	if !policy.CanAccess(viewer, task, policy.ActionRead) {
		respondError(c, http.StatusForbidden, "Not authorized to access this task")
		return
	}
	respondOK(c, http.StatusOK, "", gin.H{"task": newTaskView(task)})
}

// handleCreateTask 创建任务。
//
// POST /api/v1/tasks
//
// 普通用户只能把任务指派给自己；未指定指派对象时默认指派给创建者。
func (s *Server) handleCreateTask(c *gin.Context) {
	viewer := middleware.CurrentUser(c)

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Title and description are required")
		return
	}

	title := strings.TrimSpace(req.Title)
	description := strings.TrimSpace(req.Description)
	if title == "" || len(title) > 100 {
		respondError(c, http.StatusBadRequest, "Title must be between 1 and 100 characters")
		return
	}
	if description == "" || len(description) > 500 {
		respondError(c, http.StatusBadRequest, "Description must be between 1 and 500 characters")
		return
	}

	status := req.Status
	if status == "" {
		status = model.StatusPending
	}
	if !model.ValidStatus(status) {
		respondError(c, http.StatusBadRequest, "Invalid status value")
		return
	}
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !model.ValidPriority(priority) {
		respondError(c, http.StatusBadRequest, "Invalid priority value")
		return
	}
	if req.DueDate != nil && !req.DueDate.After(time.Now()) {
		respondError(c, http.StatusBadRequest, "Due date must be in the future")
		return
	}

	assignedTo := viewer.ID
	if req.AssignedTo != nil {
		if !policy.CanAssign(viewer, *req.AssignedTo) {
			respondError(c, http.StatusForbidden, "Not authorized to assign tasks to other users")
			return
		}
		assignedTo = *req.AssignedTo
	}

	task := model.Task{
		Title:        title,
		Description:  description,
		Status:       status,
		Priority:     priority,
		DueDate:      req.DueDate,
		CreatedByID:  viewer.ID,
		AssignedToID: &assignedTo,
	}
	if err := s.tasks.CreateTask(c.Request.Context(), &task); err != nil {
		s.logger.Error("create task failed", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "Server error")
		return
	}

	created, err := s.tasks.GetTask(c.Request.Context(), task.ID)
	if err != nil {
		created = &task
	}
	respondOK(c, http.StatusCreated, "Task created successfully", gin.H{"task": newTaskView(created)})
}

// handleUpdateTask 更新任务。
//
// PUT /api/v1/tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	id, ok := parseID(c)
	if !ok {
		return
	}

	task, err := s.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		s.respondTaskError(c, err)
		return
	}
	if !policy.CanAccess(viewer, task, policy.ActionUpdate) {
		respondError(c, http.StatusForbidden, "Not authorized to update this task")
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Validation error")
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || len(title) > 100 {
			respondError(c, http.StatusBadRequest, "Title must be between 1 and 100 characters")
			return
		}
		task.Title = title
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if description == "" || len(description) > 500 {
			respondError(c, http.StatusBadRequest, "Description must be between 1 and 500 characters")
			return
		}
		task.Description = description
	}
	if req.Status != nil {
		if !model.ValidStatus(*req.Status) {
			respondError(c, http.StatusBadRequest, "Invalid status value")
			return
		}
		task.Status = *req.Status
	}
	if req.Priority != nil {
		if !model.ValidPriority(*req.Priority) {
			respondError(c, http.StatusBadRequest, "Invalid priority value")
			return
		}
		task.Priority = *req.Priority
	}
	if req.DueDate != nil {
		if !req.DueDate.After(time.Now()) {
			respondError(c, http.StatusBadRequest, "Due date must be in the future")
			return
		}
		task.DueDate = req.DueDate
	}
	if req.AssignedTo != nil {
		if !policy.CanAssign(viewer, *req.AssignedTo) {
			respondError(c, http.StatusForbidden, "Not authorized to assign tasks to other users")
			return
		}
		task.AssignedToID = req.AssignedTo
	}

	if err := s.tasks.SaveTask(c.Request.Context(), task); err != nil {
		s.logger.Error("update task failed", slog.Uint64("task_id", uint64(id)), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "Server error")
		return
	}

	updated, err := s.tasks.GetTask(c.Request.Context(), task.ID)
	if err != nil {
		updated = task
	}
	respondOK(c, http.StatusOK, "Task updated successfully", gin.H{"task": newTaskView(updated)})
}

// handleDeleteTask 删除任务（物理删除）。
//
// DELETE /api/v1/tasks/:id
//
// 只有创建者和 admin 可以删除；被指派人不行。
func (s *Server) handleDeleteTask(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	id, ok := parseID(c)
	if !ok {
		return
	}

	task, err := s.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		s.respondTaskError(c, err)
		return
	}
	if !policy.CanAccess(viewer, task, policy.ActionDelete) {
		respondError(c, http.StatusForbidden, "Not authorized to delete this task")
		return
	}

	if err := s.tasks.DeleteTask(c.Request.Context(), id); err != nil {
		s.logger.Error("delete task failed", slog.Uint64("task_id", uint64(id)), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "Server error")
		return
	}
	respondOK(c, http.StatusOK, "Task deleted successfully", nil)
}

// parsePagination 解析 page/limit 参数并套用默认值与上限。
func (s *Server) parsePagination(c *gin.Context) (page int, limit int, ok bool) {
	page = 1
	limit = s.cfg.App.DefaultPageSize

	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "Invalid pagination parameters")
			return 0, 0, false
		}
		page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "Invalid pagination parameters")
			return 0, 0, false
		}
		limit = n
	}
	if limit > s.cfg.App.MaxPageSize {
		limit = s.cfg.App.MaxPageSize
	}
	return page, limit, true
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "Invalid task id")
		return 0, false
	}
	return uint(id), true
}

func (s *Server) respondTaskError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, http.StatusNotFound, "Task not found")
		return
	}
	s.logger.Error("task query failed", slog.String("error", err.Error()))
	respondError(c, http.StatusInternalServerError, "Server error")
}
