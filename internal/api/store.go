package api

import (
	"context"
	"time"

	"taskmaster/internal/model"

	"gorm.io/gorm"
)

// TaskFilter 描述任务列表查询条件。
type TaskFilter struct {
	Status   string // 为空表示不过滤
	Priority string // 为空表示不过滤
	Search   string // 标题/描述模糊匹配
	Page     int    // 从 1 开始
	Limit    int    // 每页条数（已经过上限裁剪）
}

// TaskStore 定义任务持久化操作。
type TaskStore interface {
	// ListTasks 返回 viewer 可见的任务分页。普通用户只能看到
	// 自己创建或被指派的任务，admin 可见全部。
	ListTasks(ctx context.Context, viewer *model.User, filter TaskFilter) ([]model.Task, int64, error)
	GetTask(ctx context.Context, id uint) (*model.Task, error)
	CreateTask(ctx context.Context, task *model.Task) error
	SaveTask(ctx context.Context, task *model.Task) error
	DeleteTask(ctx context.Context, id uint) error
}

// StatsStore 定义管理端统计查询。
type StatsStore interface {
	CountTasks(ctx context.Context) (int64, error)
	CountTasksByStatus(ctx context.Context) (map[string]int64, error)
	CountTasksByPriority(ctx context.Context) (map[string]int64, error)
	RecentTasks(ctx context.Context, limit int) ([]model.Task, error)
	CountUsers(ctx context.Context) (int64, error)
}

// AdminUserStore 定义管理端用户操作。
type AdminUserStore interface {
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SaveUser(ctx context.Context, user *model.User) error
}

// dbTaskStore 基于 GORM 的任务存储实现。
type dbTaskStore struct {
	db *gorm.DB
}

func newDBTaskStore(db *gorm.DB) *dbTaskStore {
	return &dbTaskStore{db: db}
}

// listQuery 构造任务列表的查询条件。
//
// 归属条件和搜索条件各自作为括号分组拼入 WHERE，
// 避免 OR 泄漏到其他过滤条件之外。
func (s *dbTaskStore) listQuery(db *gorm.DB, viewer *model.User, filter TaskFilter) *gorm.DB {
	q := db.Model(&model.Task{})

	if !viewer.IsAdmin() {
		scope := db.Session(&gorm.Session{NewDB: true}).
			Where("created_by_id = ?", viewer.ID).
			Or("assigned_to_id = ?", viewer.ID)
		q = q.Where(scope)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		q = q.Where("priority = ?", filter.Priority)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		search := db.Session(&gorm.Session{NewDB: true}).
			Where("title LIKE ?", like).
			Or("description LIKE ?", like)
		q = q.Where(search)
	}
	return q
}

func (s *dbTaskStore) ListTasks(ctx context.Context, viewer *model.User, filter TaskFilter) ([]model.Task, int64, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := s.listQuery(db, viewer, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	var tasks []model.Task
	err := s.listQuery(db, viewer, filter).
		Preload("CreatedBy", selectUserRef).
		Preload("AssignedTo", selectUserRef).
		Order("created_at DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&tasks).Error
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s *dbTaskStore) GetTask(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	err := s.db.WithContext(ctx).
		Preload("CreatedBy", selectUserRef).
		Preload("AssignedTo", selectUserRef).
		First(&task, id).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *dbTaskStore) CreateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *dbTaskStore) SaveTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Save(task).Error
}

func (s *dbTaskStore) DeleteTask(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&model.Task{}, id).Error
}

func (s *dbTaskStore) CountTasks(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&model.Task{}).Count(&total).Error
	return total, err
}

func (s *dbTaskStore) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	return s.groupCount(ctx, "status")
}

func (s *dbTaskStore) CountTasksByPriority(ctx context.Context) (map[string]int64, error) {
	return s.groupCount(ctx, "priority")
}

func (s *dbTaskStore) groupCount(ctx context.Context, column string) (map[string]int64, error) {
	var rows []struct {
		Key   string
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&model.Task{}).
		Select(column + " AS `key`, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Key] = row.Count
	}
	return counts, nil
}

func (s *dbTaskStore) RecentTasks(ctx context.Context, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.WithContext(ctx).
		Preload("CreatedBy", selectUserRef).
		Preload("AssignedTo", selectUserRef).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (s *dbTaskStore) CountUsers(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&model.User{}).Count(&total).Error
	return total, err
}

// selectUserRef 限定预加载用户时只取引用字段。
func selectUserRef(db *gorm.DB) *gorm.DB {
	return db.Select("id", "name", "email")
}

// dbUserStore 基于 GORM 的用户存储实现。
//
// 同时满足认证、鉴权中间件与管理端所需的接口。
type dbUserStore struct {
	db *gorm.DB
}

func newDBUserStore(db *gorm.DB) *dbUserStore {
	return &dbUserStore{db: db}
}

func (s *dbUserStore) GetUserByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *dbUserStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByVerificationToken 查找持有指定令牌且尚未过期的用户。
// 过期判断为严格晚于 now，到期瞬间即失效。
func (s *dbUserStore) GetUserByVerificationToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user model.User
	err := s.db.WithContext(ctx).
		Where("verification_token = ? AND verification_expires_at > ?", token, now).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *dbUserStore) CreateUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *dbUserStore) SaveUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

func (s *dbUserStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error
	return users, err
}
