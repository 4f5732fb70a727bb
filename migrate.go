package archive

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/luoxikang/wechat-work-archive/models"
)

func (e *ArchiveEngine) AutoMigrate() error {
	return Migrate(e.Store.DB(), e.log)
}

// Migrate 建表并补齐索引，命令行 migrate 子命令不需要构造完整引擎
func Migrate(db *gorm.DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("AutoMigrate...", zap.String("table_prefix", models.TablePrefix()))
	if err := db.AutoMigrate(models.AllTables()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// 旧库里 chat_message.msg_id 可能没有唯一索引，重复投递去重依赖它
	if !db.Migrator().HasIndex(&models.Message{}, "MsgID") {
		log.Info("creating unique index on msg_id")
		if err := db.Migrator().CreateIndex(&models.Message{}, "MsgID"); err != nil {
			return fmt.Errorf("create msg_id index: %w", err)
		}
	}
	return nil
}
