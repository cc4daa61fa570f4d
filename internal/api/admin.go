package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"taskmaster/internal/api/auth"
	"taskmaster/internal/api/middleware"
	"taskmaster/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type userStatusRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

// handleListUsers 返回全部用户。
//
// GET /api/v1/admin/users
func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.adminUsers.ListUsers(c.Request.Context())
	if err != nil {
		s.logger.Error("list users failed", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "Server error")
		return
	}

	views := make([]auth.UserView, 0, len(users))
	for i := range users {
		views = append(views, auth.NewUserView(&users[i]))
	}
	respondOK(c, http.StatusOK, "", gin.H{
		"users": views,
		"count": len(views),
	})
}

// handleUserStatus 启用或停用指定用户。
//
// PUT /api/v1/admin/users/:id/status
//
// 管理员不能停用自己的账号。
func (s *Server) handleUserStatus(c *gin.Context) {
	actor := middleware.CurrentUser(c)

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req userStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "isActive is required")
		return
	}

	if uint(id) == actor.ID && !*req.IsActive {
		respondError(c, http.StatusBadRequest, "You cannot deactivate your own account")
		return
	}

	user, err := s.adminUsers.GetUserByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "User not found")
			return
		}
		s.logger.Error("load user failed", slog.Uint64("user_id", id), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "Server error")
		return
	}

	user.IsActive = *req.IsActive
	if err := s.adminUsers.SaveUser(c.Request.Context(), user); err != nil {
		s.logger.Error("save user failed", slog.Uint64("user_id", id), slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "Server error")
		return
	}

	message := "User deactivated successfully"
	if user.IsActive {
		message = "User activated successfully"
	}
	s.logger.Info("user status changed",
		slog.Uint64("user_id", id),
		slog.Bool("is_active", user.IsActive),
		slog.Uint64("actor_id", uint64(actor.ID)),
	)
	respondOK(c, http.StatusOK, message, gin.H{"user": auth.NewUserView(user)})
}

// handleStats 返回管理端仪表盘统计。
//
// GET /api/v1/admin/stats
func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()

	totalTasks, err := s.stats.CountTasks(ctx)
	if err != nil {
		s.respondStatsError(c, err)
		return
	}
	totalUsers, err := s.stats.CountUsers(ctx)
	if err != nil {
		s.respondStatsError(c, err)
		return
	}
	byStatus, err := s.stats.CountTasksByStatus(ctx)
	if err != nil {
		s.respondStatsError(c, err)
		return
	}
	byPriority, err := s.stats.CountTasksByPriority(ctx)
	if err != nil {
		s.respondStatsError(c, err)
		return
	}
	recent, err := s.stats.RecentTasks(ctx, 5)
	if err != nil {
		s.respondStatsError(c, err)
		return
	}

	respondOK(c, http.StatusOK, "", gin.H{
		"totalTasks": totalTasks,
		"totalUsers": totalUsers,
		"tasksByStatus": gin.H{
			model.StatusPending:    byStatus[model.StatusPending],
			model.StatusInProgress: byStatus[model.StatusInProgress],
			model.StatusCompleted:  byStatus[model.StatusCompleted],
		},
		"tasksByPriority": gin.H{
			model.PriorityLow:    byPriority[model.PriorityLow],
			model.PriorityMedium: byPriority[model.PriorityMedium],
			model.PriorityHigh:   byPriority[model.PriorityHigh],
		},
		"recentTasks": newTaskViews(recent),
	})
}

func (s *Server) respondStatsError(c *gin.Context, err error) {
	s.logger.Error("stats query failed", slog.String("error", err.Error()))
	respondError(c, http.StatusInternalServerError, "Server error")
}
