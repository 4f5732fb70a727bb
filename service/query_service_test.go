package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/luoxikang/wechat-work-archive/repository"
)

func TestQueryService_ListGroups(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()
	svc := NewQueryService(&Service{DB: db})

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `wa_chat_group` WHERE owner_corp_id = \\? AND room_name LIKE \\?").
		WithArgs(testCorp, "%dev%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT \\* FROM `wa_chat_group` WHERE owner_corp_id = \\? AND room_name LIKE \\?").
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "room_name", "owner_corp_id", "member_count", "is_active"}).
			AddRow("wr1", "dev team", testCorp, 3, true))

	groups, total, err := svc.ListGroups(context.Background(), repository.GroupFilter{CorpID: testCorp, Keyword: "dev"})
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if total != 1 || len(groups) != 1 || groups[0].RoomID != "wr1" || groups[0].MemberCount != 3 {
		t.Fatalf("unexpected groups total=%d %+v", total, groups)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQueryService_GetMessageNotFound(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()
	svc := NewQueryService(&Service{DB: db})

	mock.ExpectQuery("SELECT \\* FROM `wa_chat_message` WHERE msg_id = \\?").
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.GetMessage(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQueryService_GetMessageWithMedia(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer sqldb.Close()
	svc := NewQueryService(&Service{DB: db})

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM `wa_chat_message` WHERE msg_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "corp_id", "seq", "msg_id", "room_id", "msg_type", "msg_time"}).
			AddRow(1, testCorp, 7, "m7", "wr1", "image", now))
	mock.ExpectQuery("SELECT \\* FROM `wa_media_file` WHERE msg_id = \\?").
		WithArgs("m7").
		WillReturnRows(sqlmock.NewRows([]string{"id", "msg_id", "download_status", "file_url"}).
			AddRow(3, "m7", "completed", "/media/ab/abc.jpg"))

	d, err := svc.GetMessage(context.Background(), "m7")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if d.Seq != 7 || len(d.Media) != 1 || d.Media[0].FileURL != "/media/ab/abc.jpg" {
		t.Fatalf("unexpected detail %+v", d)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
