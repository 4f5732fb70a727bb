package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/luoxikang/wechat-work-archive/models"
)

// MessageDAO 封装 Message 相关的数据库操作
type MessageDAO struct {
	db *gorm.DB
}

func NewMessageDAO(db *gorm.DB) *MessageDAO {
	return &MessageDAO{db: db}
}

func (dao *MessageDAO) WithDB(db *gorm.DB) *MessageDAO {
	if db == nil {
		return dao
	}
	return &MessageDAO{db: db}
}

// InsertIgnore 按唯一键插入，已存在时不做任何修改。返回是否真正插入。
func (dao *MessageDAO) InsertIgnore(m *models.Message) (bool, error) {
	res := dao.db.Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkRevoked 标记被撤回的消息
func (dao *MessageDAO) MarkRevoked(msgID string, at time.Time) error {
	return dao.db.Model(&models.Message{}).
		Where("msg_id = ? AND is_revoked = ?", msgID, false).
		Updates(map[string]any{"is_revoked": true, "revoke_time": at}).Error
}

func (dao *MessageDAO) FindByMsgID(msgID string) (*models.Message, error) {
	var m models.Message
	err := dao.db.Where("msg_id = ?", msgID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageFilter 消息列表过滤
type MessageFilter struct {
	RoomID   string
	MsgType  models.MessageType
	FromUser string
	Start    *time.Time
	End      *time.Time
	Page     int
	Size     int
}

// ListByRoom 按时间倒序分页
func (dao *MessageDAO) ListByRoom(f MessageFilter) ([]models.Message, int64, error) {
	q := dao.db.Model(&models.Message{}).Where("room_id = ?", f.RoomID)
	if f.MsgType != "" {
		q = q.Where("msg_type = ?", f.MsgType)
	}
	if f.FromUser != "" {
		q = q.Where("from_user = ?", f.FromUser)
	}
	if f.Start != nil {
		q = q.Where("msg_time >= ?", *f.Start)
	}
	if f.End != nil {
		q = q.Where("msg_time <= ?", *f.End)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := Page(f.Page, f.Size)
	var msgs []models.Message
	err := q.Omit("raw_data").Order("msg_time DESC, seq DESC").Offset(offset).Limit(limit).Find(&msgs).Error
	return msgs, total, err
}

// TypeCount 按类型统计
type TypeCount struct {
	MsgType models.MessageType `json:"msg_type"`
	Count   int64              `json:"count"`
}

// MessageStats 消息维度统计
type MessageStats struct {
	Total   int64       `json:"total"`
	Revoked int64       `json:"revoked"`
	ByType  []TypeCount `json:"by_type"`
}

func (dao *MessageDAO) Stats(roomID string) (MessageStats, error) {
	var s MessageStats
	base := func() *gorm.DB {
		q := dao.db.Model(&models.Message{})
		if roomID != "" {
			q = q.Where("room_id = ?", roomID)
		}
		return q
	}
	if err := base().Count(&s.Total).Error; err != nil {
		return s, err
	}
	if err := base().Where("is_revoked = ?", true).Count(&s.Revoked).Error; err != nil {
		return s, err
	}
	err := base().Select("msg_type, COUNT(*) AS count").Group("msg_type").Scan(&s.ByType).Error
	return s, err
}
