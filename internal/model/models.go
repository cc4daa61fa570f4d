package model

import "time"

// 任务状态。
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// 任务优先级。
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task 表示一条任务记录。
//
// 创建者（CreatedBy）不可变更；指派对象（AssignedTo)是可撤销的独立关系。
// 删除为物理删除，因此模型不带 gorm.DeletedAt。
type Task struct {
	ID        uint      `gorm:"primaryKey"` // 任务唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Title       string `gorm:"type:varchar(100);not null"` // 标题
	Description string `gorm:"type:varchar(500);not null"` // 描述

	Status   string     `gorm:"type:varchar(16);default:pending;index"` // 状态: pending / in-progress / completed
	Priority string     `gorm:"type:varchar(8);default:medium;index"`   // 优先级: low / medium / high
	DueDate  *time.Time // 截止时间（创建/更新时必须严格晚于当前时间）

	CreatedByID  uint  `gorm:"not null;index"` // 创建者 ID
	CreatedBy    User  `gorm:"foreignKey:CreatedByID"`
	AssignedToID *uint `gorm:"index"` // 指派对象 ID（可为空）
	AssignedTo   *User `gorm:"foreignKey:AssignedToID"`
}

// ValidStatus 校验任务状态取值。
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ValidPriority 校验任务优先级取值。
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}
