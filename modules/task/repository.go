package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/example/taskflow/domain/task"
)

// Repository persists tasks. Every method is scoped to the owning user;
// rows of other users are invisible.
type Repository interface {
	List(ctx context.Context, userID string, q task.Query) ([]task.Task, error)
	Get(ctx context.Context, userID, id string) (*task.Task, error)
	Create(ctx context.Context, t *task.Task) error
	// Update returns task.ErrNotFound when no owned row has the id.
	Update(ctx context.Context, userID, id string, p task.Patch) (*task.Task, error)
	// Delete returns the number of rows removed.
	Delete(ctx context.Context, userID, id string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// taskRow is the tasks table layout.
type taskRow struct {
	ID          string  `gorm:"primaryKey;size:36"`
	UserID      string  `gorm:"not null;size:36;index:idx_tasks_user_created,priority:1"`
	Title       string  `gorm:"not null"`
	Description *string
	ImageURL    *string
	IsCompleted bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"index:idx_tasks_user_created,priority:2,sort:desc"`
}

func (taskRow) TableName() string {
	return "tasks"
}

func rowFromTask(t *task.Task) taskRow {
	return taskRow{
		ID:          t.ID,
		UserID:      t.UserID,
		Title:       t.Title,
		Description: t.Description,
		ImageURL:    t.ImageURL,
		IsCompleted: t.IsCompleted,
		CreatedAt:   t.CreatedAt,
	}
}

func (r taskRow) toTask() task.Task {
	return task.Task{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		IsCompleted: r.IsCompleted,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

// likePattern builds a case-insensitive substring pattern for LIKE ... ESCAPE '\'.
func likePattern(search string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(search))
	return "%" + escaped + "%"
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// GormRepository stores tasks with GORM.
type GormRepository struct {
	db *gorm.DB
}

var _ Repository = (*GormRepository)(nil)

// NewGormRepository creates a GORM-backed repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates or updates the tasks table.
func (r *GormRepository) Migrate() error {
	return r.db.AutoMigrate(&taskRow{})
}

func (r *GormRepository) List(ctx context.Context, userID string, q task.Query) ([]task.Task, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if completed, restrict := q.Filter.Completed(); restrict {
		query = query.Where("is_completed = ?", completed)
	}
	// sqlite's LOWER folds ASCII only; other needles are matched in Go below.
	asciiSearch := isASCII(q.Search)
	if q.Search != "" && asciiSearch {
		pattern := likePattern(q.Search)
		query = query.Where(
			`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\')`,
			pattern, pattern,
		)
	}

	var rows []taskRow
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]task.Task, 0, len(rows))
	for _, row := range rows {
		t := row.toTask()
		if !asciiSearch && !q.Matches(t) {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *GormRepository) Get(ctx context.Context, userID, id string) (*task.Task, error) {
	var row taskRow
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, task.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	t := row.toTask()
	return &t, nil
}

func (r *GormRepository) Create(ctx context.Context, t *task.Task) error {
	row := rowFromTask(t)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *GormRepository) Update(ctx context.Context, userID, id string, p task.Patch) (*task.Task, error) {
	cols := p.Columns()
	if len(cols) == 0 {
		return r.Get(ctx, userID, id)
	}

	result := r.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(cols)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, task.ErrNotFound
	}
	return r.Get(ctx, userID, id)
}

func (r *GormRepository) Delete(ctx context.Context, userID, id string) (int, error) {
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&taskRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete task: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
