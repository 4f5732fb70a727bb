package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/luoxikang/wechat-work-archive/models"
)

func TestMessageDAO_InsertIgnore(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()
	dao := NewMessageDAO(db)

	mock.ExpectExec("INSERT INTO `wa_chat_message`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	inserted, err := dao.InsertIgnore(&models.Message{CorpID: "c", Seq: 1, MsgID: "m1", RoomID: "r", MsgType: models.MessageTypeText, MsgTime: time.Now()})
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}

	// 重复 msg_id：ON DUPLICATE KEY 不修改任何行
	mock.ExpectExec("INSERT INTO `wa_chat_message`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = dao.InsertIgnore(&models.Message{CorpID: "c", Seq: 1, MsgID: "m1", RoomID: "r", MsgType: models.MessageTypeText, MsgTime: time.Now()})
	if err != nil || inserted {
		t.Fatalf("duplicate insert: inserted=%v err=%v", inserted, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCursorDAO_GetAndAdvance(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()
	dao := NewCursorDAO(db)

	mock.ExpectQuery("SELECT \\* FROM `wa_sync_cursor`").
		WillReturnRows(sqlmock.NewRows([]string{"corp_id", "scope", "seq"}))
	seq, err := dao.Get("c", "all")
	if err != nil || seq != 0 {
		t.Fatalf("Get on empty: seq=%d err=%v", seq, err)
	}

	mock.ExpectExec("INSERT INTO `wa_sync_cursor`.*ON DUPLICATE KEY UPDATE.*GREATEST").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := dao.Advance("c", "all", 42); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	mock.ExpectQuery("SELECT \\* FROM `wa_sync_cursor`").
		WillReturnRows(sqlmock.NewRows([]string{"corp_id", "scope", "seq"}).AddRow("c", "all", 42))
	seq, err = dao.Get("c", "all")
	if err != nil || seq != 42 {
		t.Fatalf("Get: seq=%d err=%v", seq, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMediaDAO_Transition(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()
	dao := NewMediaDAO(db)

	mock.ExpectExec("UPDATE `wa_media_file` SET .*download_status.* WHERE id = \\? AND download_status = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := dao.Transition(7, models.DownloadPending, models.DownloadDownloading, MediaOutcome{})
	if err != nil || !ok {
		t.Fatalf("Transition: ok=%v err=%v", ok, err)
	}

	// 状态已被其它 worker 改变
	mock.ExpectExec("UPDATE `wa_media_file` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = dao.Transition(7, models.DownloadPending, models.DownloadDownloading, MediaOutcome{})
	if err != nil || ok {
		t.Fatalf("Transition on stale state: ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMediaDAO_IncrAttemptsRespectsCeiling(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()
	dao := NewMediaDAO(db)

	mock.ExpectExec("UPDATE `wa_media_file` SET `download_attempts`=download_attempts \\+ \\?.* WHERE id = \\? AND download_attempts < \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT download_attempts FROM `wa_media_file` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"download_attempts"}).AddRow(3))
	n, ok, err := dao.IncrAttempts(7, 3)
	if err != nil || !ok || n != 3 {
		t.Fatalf("IncrAttempts: n=%d ok=%v err=%v", n, ok, err)
	}

	// 已到上限，不再计数
	mock.ExpectExec("UPDATE `wa_media_file` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT download_attempts FROM `wa_media_file`").
		WillReturnRows(sqlmock.NewRows([]string{"download_attempts"}).AddRow(3))
	n, ok, err = dao.IncrAttempts(7, 3)
	if err != nil || ok || n != 3 {
		t.Fatalf("IncrAttempts at ceiling: n=%d ok=%v err=%v", n, ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMediaOutcome_Updates(t *testing.T) {
	empty := ""
	at := time.Now()
	u := MediaOutcome{LocalPath: "/a", MD5: "x", ErrorMessage: &empty, DownloadedAt: &at, ResetAttempts: true}.Updates(models.DownloadCompleted)
	if u["download_status"] != models.DownloadCompleted || u["local_path"] != "/a" || u["md5"] != "x" {
		t.Fatalf("unexpected updates %v", u)
	}
	if u["error_message"] != "" || u["download_attempts"] != 0 {
		t.Fatalf("error_message/attempts not reset: %v", u)
	}
	if _, ok := u["file_url"]; ok {
		t.Fatalf("zero fields must be skipped: %v", u)
	}
}

func TestTaskDAO_SaveProgressSkipsTerminal(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()
	dao := NewTaskDAO(db)

	mock.ExpectExec("UPDATE `wa_sync_task` SET .* WHERE task_id = \\? AND status NOT IN").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := dao.SaveProgress(&models.SyncTask{TaskID: "t1", Status: models.TaskRunning, Progress: 3}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTaskDAO_FindNotFound(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()

	mock.ExpectQuery("SELECT \\* FROM `wa_sync_task`").
		WillReturnRows(sqlmock.NewRows([]string{"task_id"}))
	_, err := NewTaskDAO(db).FindByTaskID("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGormStore_InBatchCommitAndRollback(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()
	store := NewGormStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `wa_chat_group`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err := store.InBatch(context.Background(), func(w BatchWriter) error {
		return w.EnsureGroup(&models.Group{RoomID: "r1", OwnerCorpID: "c", IsActive: true})
	})
	if err != nil {
		t.Fatalf("InBatch commit: %v", err)
	}

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `wa_chat_group`").WillReturnError(boom)
	mock.ExpectRollback()
	err = store.InBatch(context.Background(), func(w BatchWriter) error {
		return w.EnsureGroup(&models.Group{RoomID: "r2", OwnerCorpID: "c", IsActive: true})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		page, size    int
		offset, limit int
	}{
		{0, 0, 0, 20},
		{2, 10, 10, 10},
		{1, 1000, 0, 100},
	}
	for _, tt := range tests {
		off, lim := Page(tt.page, tt.size)
		if off != tt.offset || lim != tt.limit {
			t.Fatalf("Page(%d,%d)=(%d,%d) want (%d,%d)", tt.page, tt.size, off, lim, tt.offset, tt.limit)
		}
	}
}
