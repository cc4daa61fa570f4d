package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"taskmaster/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedAdminUser 按配置创建初始管理员账号。
//
// 未配置 admin_email 时跳过；账号已存在时不做任何修改。
// 种子账号直接标记为已验证，不走邮箱验证流程。
func (s *Server) SeedAdminUser(ctx context.Context) error {
	sec := s.cfg.Security
	if sec.AdminEmail == "" {
		return nil
	}
	if sec.AdminPassword == "" {
		return fmt.Errorf("admin_email set but admin_password empty")
	}

	email := strings.TrimSpace(strings.ToLower(sec.AdminEmail))
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		s.logger.Info("admin user already exists", slog.String("email", email))
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("query admin user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(sec.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	name := sec.AdminName
	if name == "" {
		name = "Administrator"
	}
	admin := model.User{
		Name:       name,
		Email:      email,
		Password:   string(hash),
		Role:       model.RoleAdmin,
		IsActive:   true,
		IsVerified: true,
	}
	if err := s.users.CreateUser(ctx, &admin); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	s.logger.Info("admin user seeded", slog.String("email", email))
	return nil
}
