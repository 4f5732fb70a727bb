package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/luoxikang/wechat-work-archive/models"
)

// MemberDAO 群成员数据访问。成员生命周期完全由系统消息驱动。
type MemberDAO struct {
	db *gorm.DB
}

func NewMemberDAO(db *gorm.DB) *MemberDAO {
	return &MemberDAO{db: db}
}

func (dao *MemberDAO) WithDB(db *gorm.DB) *MemberDAO {
	if db == nil {
		return dao
	}
	return &MemberDAO{db: db}
}

// FindActive 当前有效的成员记录，不存在返回 nil, nil
func (dao *MemberDAO) FindActive(roomID, userID string) (*models.Member, error) {
	var m models.Member
	err := dao.db.Where("room_id = ? AND user_id = ? AND is_active = ?", roomID, userID, true).
		Order("join_time DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create (room_id, user_id, join_time) 冲突时忽略
func (dao *MemberDAO) Create(m *models.Member) error {
	return dao.db.Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

func (dao *MemberDAO) Quit(roomID, userID string, at time.Time) error {
	return dao.db.Model(&models.Member{}).
		Where("room_id = ? AND user_id = ? AND is_active = ?", roomID, userID, true).
		Updates(map[string]any{"is_active": false, "quit_time": at}).Error
}

func (dao *MemberDAO) SetRole(roomID, userID string, role models.MemberRole) error {
	return dao.db.Model(&models.Member{}).
		Where("room_id = ? AND user_id = ? AND is_active = ?", roomID, userID, true).
		Update("role", role).Error
}

// Touch 发言计数 +1 并刷新 last_seen
func (dao *MemberDAO) Touch(roomID, userID string, at time.Time) error {
	return dao.db.Model(&models.Member{}).
		Where("room_id = ? AND user_id = ? AND is_active = ?", roomID, userID, true).
		Updates(map[string]any{
			"message_count": gorm.Expr("message_count + ?", 1),
			"last_seen":     at,
		}).Error
}

// DeactivateAll 解散群时停用全部成员
func (dao *MemberDAO) DeactivateAll(roomID string, at time.Time) error {
	return dao.db.Model(&models.Member{}).
		Where("room_id = ? AND is_active = ?", roomID, true).
		Updates(map[string]any{"is_active": false, "quit_time": at}).Error
}

func (dao *MemberDAO) CountActive(roomID string) (int64, error) {
	var n int64
	err := dao.db.Model(&models.Member{}).
		Where("room_id = ? AND is_active = ?", roomID, true).
		Count(&n).Error
	return n, err
}

// ListByRoom 成员列表，activeOnly 为 false 时包含历史记录
func (dao *MemberDAO) ListByRoom(roomID string, activeOnly bool, page, size int) ([]models.Member, int64, error) {
	q := dao.db.Model(&models.Member{}).Where("room_id = ?", roomID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := Page(page, size)
	var members []models.Member
	err := q.Order("join_time ASC").Offset(offset).Limit(limit).Find(&members).Error
	return members, total, err
}
