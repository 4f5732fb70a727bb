package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/luoxikang/wechat-work-archive/models"
)

// CursorDAO 增量游标。游标只增不减。
type CursorDAO struct {
	db *gorm.DB
}

func NewCursorDAO(db *gorm.DB) *CursorDAO {
	return &CursorDAO{db: db}
}

func (dao *CursorDAO) WithDB(db *gorm.DB) *CursorDAO {
	if db == nil {
		return dao
	}
	return &CursorDAO{db: db}
}

// Get 未同步过返回 0
func (dao *CursorDAO) Get(corpID, scope string) (int64, error) {
	var c models.SyncCursor
	err := dao.db.Where("corp_id = ? AND scope = ?", corpID, scope).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Seq, nil
}

// Advance upsert，已存在时取 GREATEST(旧值, 新值)
func (dao *CursorDAO) Advance(corpID, scope string, seq int64) error {
	now := time.Now()
	c := &models.SyncCursor{CorpID: corpID, Scope: scope, Seq: seq, UpdatedAt: now}
	return dao.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "corp_id"}, {Name: "scope"}},
		DoUpdates: clause.Assignments(map[string]any{
			"seq":        gorm.Expr("GREATEST("+c.TableName()+".seq, ?)", seq),
			"updated_at": now,
		}),
	}).Create(c).Error
}
