package policy

import "taskmaster/internal/model"

// Action 表示对任务的一种操作。
type Action string

const (
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// CanAccess 判断用户能否对任务执行指定操作。
//
// admin 不受限制；普通用户读取/更新要求自己是创建者或被指派人，
// 删除只允许创建者。
func CanAccess(u *model.User, t *model.Task, action Action) bool {
	if u == nil || t == nil {
		return false
	}
	if u.IsAdmin() {
		return true
	}

	isCreator := t.CreatedByID == u.ID
	isAssignee := t.AssignedToID != nil && *t.AssignedToID == u.ID

	switch action {
	case ActionRead, ActionUpdate:
		return isCreator || isAssignee
	case ActionDelete:
		return isCreator
	}
	return false
}

// CanAssign 判断用户能否把任务指派给目标用户。
//
// 普通用户只能指派给自己。
func CanAssign(u *model.User, targetID uint) bool {
	if u == nil {
		return false
	}
	if u.IsAdmin() {
		return true
	}
	return targetID == u.ID
}
