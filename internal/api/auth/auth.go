package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"taskmaster/internal/config"
	"taskmaster/internal/model"
	"taskmaster/internal/pkg/metrics"
	"taskmaster/internal/pkg/notify"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserStore 定义认证流程所需的用户持久化操作。
type UserStore interface {
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// GetUserByVerificationToken 只匹配令牌相同且过期时间严格晚于 now 的用户。
	GetUserByVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	SaveUser(ctx context.Context, user *model.User) error
}

// Handler 提供注册、登录、邮箱验证与个人资料接口。
type Handler struct {
	users  UserStore
	cfg    *config.Config
	mailer notify.Mailer
	logger *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(users UserStore, cfg *config.Config, mailer notify.Mailer, logger *slog.Logger) *Handler {
	return &Handler{
		users:  users,
		cfg:    cfg,
		mailer: mailer,
		logger: logger,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"omitempty,oneof=user admin"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type resendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type updateProfileRequest struct {
	Name           *string `json:"name"`
	Email          *string `json:"email"`
	ProfilePicture *string `json:"profilePicture"`
}

// UserView 是对外暴露的用户信息，绝不包含密码哈希与验证令牌。
type UserView struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	IsActive   bool      `json:"isActive"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewUserView 构造用户响应视图。
func NewUserView(u *model.User) UserView {
	return UserView{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
}

var nameRe = regexp.MustCompile(`^[a-zA-Z\s]+$`)

// 与真实哈希同等代价的占位哈希，用于抹平“账号不存在”分支的耗时。
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Register 创建新用户并发送验证邮件。
//
// POST /api/v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Validation error")
		return
	}

	name := strings.TrimSpace(req.Name)
	if len(name) < 2 || len(name) > 50 || !nameRe.MatchString(name) {
		fail(c, http.StatusBadRequest, "Name must be between 2 and 50 characters and contain only letters and spaces")
		return
	}
	if msg := checkPassword(req.Password); msg != "" {
		fail(c, http.StatusBadRequest, msg)
		return
	}
	role := req.Role
	if role == "" {
		role = model.RoleUser
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	ctx := c.Request.Context()
	if _, err := h.users.GetUserByEmail(ctx, email); err == nil {
		fail(c, http.StatusBadRequest, "User already exists with this email")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.logger.Error("query user failed", slog.String("email", email), slog.String("error", err.Error()))
		fail(c, http.StatusInternalServerError, "Server error during registration")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Server error during registration")
		return
	}

	token, err := generateToken()
	if err != nil {
		fail(c, http.StatusInternalServerError, "Server error during registration")
		return
	}
	now := time.Now()
	expires := now.Add(h.cfg.Security.VerificationTTL)

	user := model.User{
		Name:                  name,
		Email:                 email,
		Password:              string(hash),
		Role:                  role,
		IsActive:              true,
		IsVerified:            false,
		VerificationToken:     token,
		VerificationExpiresAt: &expires,
		VerificationSentAt:    &now,
	}
	if err := h.users.CreateUser(ctx, &user); err != nil {
		h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		fail(c, http.StatusInternalServerError, "Server error during registration")
		return
	}

	// 邮件发送失败不回滚注册，只作为警告返回
	emailSent := true
	if err := h.mailer.SendVerificationEmail(user.Email, user.Name, token); err != nil {
		emailSent = false
		h.logger.Warn("send verification email failed", slog.String("email", email), slog.String("error", err.Error()))
	}

	h.logger.Info("user registered", slog.String("email", email), slog.String("role", role))
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Registration successful! Please check your email to verify your account.",
		"data": gin.H{
			"user":                 NewUserView(&user),
			"requiresVerification": true,
			"emailSent":            emailSent,
		},
	})
}

// Login 校验用户并返回 JWT。
//
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Validation error")
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.users.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		// 账号不存在时也做一次比较，避免与密码错误在耗时上可区分
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		metrics.LoginFailureTotal.Inc()
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if !user.IsActive {
		metrics.LoginFailureTotal.Inc()
		fail(c, http.StatusUnauthorized, "Account is deactivated")
		return
	}

	if !user.IsVerified {
		metrics.LoginFailureTotal.Inc()
		c.JSON(http.StatusUnauthorized, gin.H{
			"success":              false,
			"message":              "Please verify your email address before logging in. Check your inbox for the verification email.",
			"requiresVerification": true,
		})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		metrics.LoginFailureTotal.Inc()
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.issueToken(user.ID)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		fail(c, http.StatusInternalServerError, "Server error during login")
		return
	}

	h.logger.Info("user logged in", slog.String("email", email), slog.String("role", user.Role))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Login successful",
		"data": gin.H{
			"user":  NewUserView(user),
			"token": token,
		},
	})
}

// VerifyEmail 消费验证令牌并跳转回前端。
//
// GET /api/v1/auth/verify-email/:token
//
// 这是浏览器点击邮件链接的入口，始终以 302 跳转返回结果，不输出 JSON。
func (h *Handler) VerifyEmail(c *gin.Context) {
	token := c.Param("token")

	user, err := h.users.GetUserByVerificationToken(c.Request.Context(), token, time.Now())
	if err != nil {
		// 错误令牌、已消费、已过期一律视为无效，状态不变
		c.Redirect(http.StatusFound, h.verifyRedirect(url.Values{
			"status":  {"error"},
			"message": {"Invalid or expired verification token"},
		}))
		return
	}

	user.IsVerified = true
	user.VerificationToken = ""
	user.VerificationExpiresAt = nil
	user.VerificationSentAt = nil
	if err := h.users.SaveUser(c.Request.Context(), user); err != nil {
		h.logger.Error("verify failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.Redirect(http.StatusFound, h.verifyRedirect(url.Values{
			"status":  {"error"},
			"message": {"Verification failed, please try again"},
		}))
		return
	}

	// 欢迎邮件尽力而为，不影响跳转
	go func(email, name string) {
		if err := h.mailer.SendWelcomeEmail(email, name); err != nil {
			h.logger.Warn("send welcome email failed", slog.String("email", email), slog.String("error", err.Error()))
		}
	}(user.Email, user.Name)

	h.logger.Info("email verified", slog.String("email", user.Email))
	c.Redirect(http.StatusFound, h.verifyRedirect(url.Values{
		"status": {"success"},
		"email":  {user.Email},
		"name":   {user.Name},
	}))
}

// ResendVerification 为未验证账号重新签发验证令牌。
//
// POST /api/v1/auth/resend-verification
//
// 旧令牌被覆盖后立即失效，即使尚未过期。
func (h *Handler) ResendVerification(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Email is required")
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.users.GetUserByEmail(c.Request.Context(), email)
	if err != nil || user.IsVerified {
		fail(c, http.StatusBadRequest, "No unverified account found with this email")
		return
	}

	cooldown := h.cfg.Security.ResendCooldown
	if user.VerificationSentAt != nil && time.Since(*user.VerificationSentAt) < cooldown {
		remain := int(cooldown.Seconds() - time.Since(*user.VerificationSentAt).Seconds())
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"message":     "Too many requests",
			"retry_after": remain,
		})
		return
	}

	token, err := generateToken()
	if err != nil {
		fail(c, http.StatusInternalServerError, "Server error while resending verification email")
		return
	}
	now := time.Now()
	expires := now.Add(h.cfg.Security.VerificationTTL)
	user.VerificationToken = token
	user.VerificationExpiresAt = &expires
	user.VerificationSentAt = &now

	if err := h.users.SaveUser(c.Request.Context(), user); err != nil {
		h.logger.Error("save verification token failed", slog.String("email", email), slog.String("error", err.Error()))
		fail(c, http.StatusInternalServerError, "Server error while resending verification email")
		return
	}

	if err := h.mailer.SendVerificationEmail(user.Email, user.Name, token); err != nil {
		h.logger.Warn("resend verification failed", slog.String("email", email), slog.String("error", err.Error()))
		fail(c, http.StatusInternalServerError, "Failed to send verification email")
		return
	}

	h.logger.Info("verification email resent", slog.String("email", email))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Verification email sent successfully! Please check your inbox.",
	})
}

// Profile 返回当前用户信息。
//
// GET /api/v1/auth/profile
func (h *Handler) Profile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		fail(c, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"user": NewUserView(user)},
	})
}

// UpdateProfile 更新当前用户资料。
//
// PUT /api/v1/auth/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		fail(c, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Validation error")
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if len(name) < 2 || len(name) > 50 || !nameRe.MatchString(name) {
			fail(c, http.StatusBadRequest, "Name must be between 2 and 50 characters and contain only letters and spaces")
			return
		}
		user.Name = name
	}
	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email != user.Email {
			if _, err := h.users.GetUserByEmail(c.Request.Context(), email); err == nil {
				fail(c, http.StatusBadRequest, "Email already exists")
				return
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				fail(c, http.StatusInternalServerError, "Server error updating profile")
				return
			}
			user.Email = email
		}
	}
	if req.ProfilePicture != nil {
		user.ProfilePicture = *req.ProfilePicture
	}

	if err := h.users.SaveUser(c.Request.Context(), user); err != nil {
		h.logger.Error("update profile failed", slog.Uint64("user_id", uint64(user.ID)), slog.String("error", err.Error()))
		fail(c, http.StatusInternalServerError, "Server error updating profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Profile updated successfully",
		"data":    gin.H{"user": NewUserView(user)},
	})
}

func (h *Handler) verifyRedirect(params url.Values) string {
	return strings.TrimRight(h.cfg.App.FrontendURL, "/") + "/verify-email?" + params.Encode()
}

func (h *Handler) issueToken(userID uint) (string, error) {
	// 令牌只绑定身份，角色等可变状态每次请求从存储重读
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(h.cfg.Security.TokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.Security.JWTSecret))
}

func checkPassword(password string) string {
	if len(password) < 6 {
		return "Password must be at least 6 characters long"
	}
	var hasLower, hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLower || !hasUpper || !hasDigit {
		return "Password must contain at least one lowercase letter, one uppercase letter, and one number"
	}
	return ""
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token failed")
	}
	return hex.EncodeToString(buf), nil
}

func currentUser(c *gin.Context) *model.User {
	v, ok := c.Get("currentUser")
	if !ok {
		return nil
	}
	user, ok := v.(*model.User)
	if !ok {
		return nil
	}
	return user
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}
