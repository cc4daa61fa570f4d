package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"taskmaster/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userContextKey = "currentUser"

// UserLoader 按 ID 加载用户。
type UserLoader interface {
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
}

// AuthMiddleware 校验 Bearer JWT 并把数据库中的最新用户记录写入上下文。
//
// 令牌只携带用户标识；角色、启用、验证状态每次都从存储重新读取，
// 保证封禁与角色变更立即生效。
func AuthMiddleware(jwtSecret string, users UserLoader) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Not authorized to access this route")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "Not authorized to access this route")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			abortUnauthorized(c, "Not authorized to access this route")
			return
		}

		uid, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			abortUnauthorized(c, "Not authorized to access this route")
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), uint(uid))
		if err != nil || user == nil {
			abortUnauthorized(c, "No user found with this token")
			return
		}
		if !user.IsActive {
			abortUnauthorized(c, "User account is deactivated")
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// RequireRole 限定后续处理器只允许指定角色访问。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			abortUnauthorized(c, "Not authorized to access this route")
			return
		}
		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Role " + user.Role + " is not authorized to access this route",
		})
		c.Abort()
	}
}

// CurrentUser 返回 AuthMiddleware 写入的用户，未认证时返回 nil。
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, ok := v.(*model.User)
	if !ok {
		return nil
	}
	return user
}

// SetCurrentUser 仅供测试注入用户。
func SetCurrentUser(c *gin.Context, user *model.User) {
	c.Set(userContextKey, user)
}

func abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": message})
	c.Abort()
}
