package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/luoxikang/wechat-work-archive/models"
)

// MediaDAO 媒体文件数据访问
type MediaDAO struct {
	db *gorm.DB
}

func NewMediaDAO(db *gorm.DB) *MediaDAO {
	return &MediaDAO{db: db}
}

func (dao *MediaDAO) WithDB(db *gorm.DB) *MediaDAO {
	if db == nil {
		return dao
	}
	return &MediaDAO{db: db}
}

func (dao *MediaDAO) CreateBatch(files []*models.MediaFile) error {
	if len(files) == 0 {
		return nil
	}
	return dao.db.Create(files).Error
}

func (dao *MediaDAO) FindByID(id uint64) (*models.MediaFile, error) {
	var f models.MediaFile
	err := dao.db.Where("id = ?", id).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Transition 条件更新状态（WHERE download_status = from），返回是否命中
func (dao *MediaDAO) Transition(id uint64, from, to models.DownloadStatus, out MediaOutcome) (bool, error) {
	res := dao.db.Model(&models.MediaFile{}).
		Where("id = ? AND download_status = ?", id, from).
		Updates(out.Updates(to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrAttempts 尝试次数未达到 ceiling 时 +1，返回最新值与是否计数成功
func (dao *MediaDAO) IncrAttempts(id uint64, ceiling int) (int, bool, error) {
	res := dao.db.Model(&models.MediaFile{}).
		Where("id = ? AND download_attempts < ?", id, ceiling).
		Update("download_attempts", gorm.Expr("download_attempts + ?", 1))
	if res.Error != nil {
		return 0, false, res.Error
	}
	var n int
	err := dao.db.Model(&models.MediaFile{}).
		Select("download_attempts").
		Where("id = ?", id).
		Scan(&n).Error
	return n, res.RowsAffected > 0, err
}

// FindCompletedByMD5 相同内容已下载完成的记录，不存在返回 nil, nil
func (dao *MediaDAO) FindCompletedByMD5(md5 string) (*models.MediaFile, error) {
	var f models.MediaFile
	err := dao.db.Where("md5 = ? AND download_status = ?", md5, models.DownloadCompleted).
		Order("id ASC").
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (dao *MediaDAO) ListIDsByStatus(status models.DownloadStatus, limit int) ([]uint64, error) {
	var ids []uint64
	q := dao.db.Model(&models.MediaFile{}).
		Where("download_status = ?", status).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

func (dao *MediaDAO) ListByMsgID(msgID string) ([]models.MediaFile, error) {
	var files []models.MediaFile
	err := dao.db.Where("msg_id = ?", msgID).Order("id ASC").Find(&files).Error
	return files, err
}
