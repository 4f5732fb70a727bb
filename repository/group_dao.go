package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/luoxikang/wechat-work-archive/models"
)

// GroupDAO 封装 Group 相关的数据库操作
//
// 约定：
// - 只做数据访问，不做同步编排。
// - 事务边界应由 service 控制；如需在事务中执行，请使用 WithDB(tx)。
type GroupDAO struct {
	db *gorm.DB
}

func NewGroupDAO(db *gorm.DB) *GroupDAO {
	return &GroupDAO{db: db}
}

// WithDB 用于在事务（tx）中复用 DAO
func (dao *GroupDAO) WithDB(db *gorm.DB) *GroupDAO {
	if db == nil {
		return dao
	}
	return &GroupDAO{db: db}
}

// EnsureExists 群不存在时插入，已存在则不做修改
func (dao *GroupDAO) EnsureExists(g *models.Group) error {
	return dao.db.Clauses(clause.OnConflict{DoNothing: true}).Create(g).Error
}

func (dao *GroupDAO) Rename(roomID, name string) error {
	return dao.db.Model(&models.Group{}).
		Where("room_id = ?", roomID).
		Update("room_name", name).Error
}

func (dao *GroupDAO) SetNotice(roomID, notice string) error {
	return dao.db.Model(&models.Group{}).
		Where("room_id = ?", roomID).
		Update("notice", notice).Error
}

// Deactivate 停用群（不删除，保留存档）
func (dao *GroupDAO) Deactivate(roomID string) error {
	return dao.db.Model(&models.Group{}).
		Where("room_id = ?", roomID).
		Update("is_active", false).Error
}

// UpdateStats member_count 与 last_sync_time 必须和批次在同一事务内写入
func (dao *GroupDAO) UpdateStats(roomID string, memberCount int64, syncedAt time.Time) error {
	return dao.db.Model(&models.Group{}).
		Where("room_id = ?", roomID).
		Updates(map[string]any{"member_count": memberCount, "last_sync_time": syncedAt}).Error
}

func (dao *GroupDAO) FindByRoomID(roomID string) (*models.Group, error) {
	var g models.Group
	err := dao.db.Where("room_id = ?", roomID).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupFilter 群列表过滤
type GroupFilter struct {
	CorpID   string
	Keyword  string
	IsActive *bool
	Page     int
	Size     int
}

func (dao *GroupDAO) List(f GroupFilter) ([]models.Group, int64, error) {
	q := dao.db.Model(&models.Group{})
	if f.CorpID != "" {
		q = q.Where("owner_corp_id = ?", f.CorpID)
	}
	if f.Keyword != "" {
		q = q.Where("room_name LIKE ?", "%"+f.Keyword+"%")
	}
	if f.IsActive != nil {
		q = q.Where("is_active = ?", *f.IsActive)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := Page(f.Page, f.Size)
	var groups []models.Group
	err := q.Order("last_sync_time DESC").Offset(offset).Limit(limit).Find(&groups).Error
	return groups, total, err
}

// GroupStats 群维度统计
type GroupStats struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

func (dao *GroupDAO) Stats(corpID string) (GroupStats, error) {
	var s GroupStats
	q := dao.db.Model(&models.Group{})
	if corpID != "" {
		q = q.Where("owner_corp_id = ?", corpID)
	}
	if err := q.Count(&s.Total).Error; err != nil {
		return s, err
	}
	q = dao.db.Model(&models.Group{}).Where("is_active = ?", true)
	if corpID != "" {
		q = q.Where("owner_corp_id = ?", corpID)
	}
	err := q.Count(&s.Active).Error
	return s, err
}
