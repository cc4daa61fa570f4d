package model

import "time"

// 角色常量。admin 不受任务归属限制。
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User 表示系统用户。
//
// 验证令牌为一次性：验证成功或重新签发后旧令牌立即失效。
type User struct {
	ID                    uint       `gorm:"primaryKey"`                    // 用户 ID
	Name                  string     `gorm:"type:varchar(50);not null"`     // 显示名称
	Email                 string     `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一）
	Password              string     `gorm:"not null"`                      // bcrypt 哈希
	Role                  string     `gorm:"type:varchar(16);default:user"` // 角色: user / admin
	IsActive              bool       `gorm:"default:true"`                  // 账号是否启用
	IsVerified            bool       `gorm:"default:false"`                 // 邮箱是否已验证
	VerificationToken     string     `gorm:"type:varchar(64);index"`        // 邮箱验证令牌
	VerificationExpiresAt *time.Time // 令牌过期时间
	VerificationSentAt    *time.Time // 上次发送验证邮件的时间
	ProfilePicture        string     // 头像链接
	CreatedAt             time.Time  // 创建时间
	UpdatedAt             time.Time  // 更新时间

	Tasks []Task `gorm:"foreignKey:CreatedByID"`
}

// IsAdmin 判断用户是否为管理员。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
