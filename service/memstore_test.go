package service

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/repository"
)

// memState 存档数据的内存快照，InBatch 在副本上执行，成功后整体替换
type memState struct {
	groups   map[string]models.Group
	messages map[string]models.Message
	members  []models.Member
	media    map[uint64]models.MediaFile
	cursors  map[string]int64
	mediaSeq uint64
}

func newMemState() *memState {
	return &memState{
		groups:   map[string]models.Group{},
		messages: map[string]models.Message{},
		media:    map[uint64]models.MediaFile{},
		cursors:  map[string]int64{},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		groups:   maps.Clone(s.groups),
		messages: maps.Clone(s.messages),
		members:  append([]models.Member(nil), s.members...),
		media:    maps.Clone(s.media),
		cursors:  maps.Clone(s.cursors),
		mediaSeq: s.mediaSeq,
	}
}

// memStore 实现 ArchiveStore / TaskStore / MediaRepo
type memStore struct {
	mu    sync.Mutex
	st    *memState
	tasks map[string]models.SyncTask

	// failBatches 接下来多少次 InBatch 在执行完后回滚并返回错误
	failBatches int
	batchCalls  int
}

func newMemStore() *memStore {
	return &memStore{st: newMemState(), tasks: map[string]models.SyncTask{}}
}

var errInjected = errors.New("injected batch failure")

func (m *memStore) InBatch(_ context.Context, fn func(w repository.BatchWriter) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	tx := m.st.clone()
	if err := fn(&memTx{st: tx}); err != nil {
		return err
	}
	if m.failBatches > 0 {
		m.failBatches--
		return errInjected
	}
	m.st = tx
	return nil
}

func (m *memStore) LoadCursor(_ context.Context, corpID, scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.cursors[corpID+"|"+scope], nil
}

func (m *memStore) CreateTask(_ context.Context, t *models.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	m.tasks[t.TaskID] = *t
	return nil
}

func (m *memStore) SaveTask(_ context.Context, t *models.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.TaskID]
	if !ok || cur.Status.Terminal() {
		return nil
	}
	m.tasks[t.TaskID] = *t
	return nil
}

func (m *memStore) GetTask(_ context.Context, taskID string) (*models.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (m *memStore) ListTasks(_ context.Context, f repository.TaskFilter) ([]models.SyncTask, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncTask
	for _, t := range m.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.RoomID != "" && t.RoomID != f.RoomID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (m *memStore) GetMedia(_ context.Context, id uint64) (*models.MediaFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.st.media[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &f, nil
}

func (m *memStore) TransitionMedia(_ context.Context, id uint64, from, to models.DownloadStatus, out repository.MediaOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.st.media[id]
	if !ok || f.DownloadStatus != from {
		return false, nil
	}
	if !from.CanTransition(to) {
		return false, errors.New("illegal transition " + string(from) + " -> " + string(to))
	}
	f.DownloadStatus = to
	if out.LocalPath != "" {
		f.LocalPath = out.LocalPath
	}
	if out.FileURL != "" {
		f.FileURL = out.FileURL
	}
	if out.MD5 != "" {
		f.MD5 = out.MD5
	}
	if out.MimeType != "" {
		f.MimeType = out.MimeType
	}
	if out.FileSize > 0 {
		f.FileSize = out.FileSize
	}
	if out.ErrorMessage != nil {
		f.ErrorMessage = *out.ErrorMessage
	}
	if out.DownloadedAt != nil {
		f.DownloadedAt = out.DownloadedAt
	}
	if out.ResetAttempts {
		f.DownloadAttempts = 0
	}
	m.st.media[id] = f
	return true, nil
}

func (m *memStore) IncrMediaAttempts(_ context.Context, id uint64, ceiling int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.st.media[id]
	if f.DownloadAttempts >= ceiling {
		return f.DownloadAttempts, false, nil
	}
	f.DownloadAttempts++
	m.st.media[id] = f
	return f.DownloadAttempts, true, nil
}

func (m *memStore) FindCompletedByMD5(_ context.Context, md5 string) (*models.MediaFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.st.media {
		if f.MD5 == md5 && f.DownloadStatus == models.DownloadCompleted {
			return &f, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListMediaIDs(_ context.Context, status models.DownloadStatus, limit int) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint64
	for id, f := range m.st.media {
		if f.DownloadStatus == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// 测试读取辅助

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.clone()
}

func (m *memStore) putMedia(f models.MediaFile) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.mediaSeq++
	f.ID = m.st.mediaSeq
	m.st.media[f.ID] = f
	return f.ID
}

func (m *memStore) media(id uint64) models.MediaFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.media[id]
}

func (m *memStore) task(id string) models.SyncTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

func (s *memState) activeMembers(roomID string) map[string]models.Member {
	out := map[string]models.Member{}
	for _, mb := range s.members {
		if mb.RoomID == roomID && mb.IsActive {
			out[mb.UserID] = mb
		}
	}
	return out
}

// memTx 事务内写操作，作用于快照副本
type memTx struct {
	st *memState
}

func (t *memTx) EnsureGroup(g *models.Group) error {
	if _, ok := t.st.groups[g.RoomID]; !ok {
		t.st.groups[g.RoomID] = *g
	}
	return nil
}

func (t *memTx) InsertMessage(m *models.Message) (bool, error) {
	if _, ok := t.st.messages[m.MsgID]; ok {
		return false, nil
	}
	t.st.messages[m.MsgID] = *m
	return true, nil
}

func (t *memTx) MarkRevoked(msgID string, at time.Time) error {
	m, ok := t.st.messages[msgID]
	if !ok || m.IsRevoked {
		return nil
	}
	m.IsRevoked = true
	m.RevokeTime = &at
	t.st.messages[msgID] = m
	return nil
}

func (t *memTx) ActiveMember(roomID, userID string) (*models.Member, error) {
	for _, mb := range t.st.members {
		if mb.RoomID == roomID && mb.UserID == userID && mb.IsActive {
			return &mb, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateMember(m *models.Member) error {
	for _, mb := range t.st.members {
		if mb.RoomID == m.RoomID && mb.UserID == m.UserID && mb.JoinTime.Equal(m.JoinTime) {
			return nil
		}
	}
	t.st.members = append(t.st.members, *m)
	return nil
}

func (t *memTx) updateActive(roomID, userID string, fn func(*models.Member)) {
	for i := range t.st.members {
		mb := &t.st.members[i]
		if mb.RoomID == roomID && (userID == "" || mb.UserID == userID) && mb.IsActive {
			fn(mb)
		}
	}
}

func (t *memTx) QuitMember(roomID, userID string, at time.Time) error {
	t.updateActive(roomID, userID, func(mb *models.Member) {
		mb.IsActive = false
		mb.QuitTime = &at
	})
	return nil
}

func (t *memTx) SetMemberRole(roomID, userID string, role models.MemberRole) error {
	t.updateActive(roomID, userID, func(mb *models.Member) { mb.Role = role })
	return nil
}

func (t *memTx) TouchMember(roomID, userID string, at time.Time) error {
	t.updateActive(roomID, userID, func(mb *models.Member) {
		mb.MessageCount++
		mb.LastSeen = &at
	})
	return nil
}

func (t *memTx) RenameGroup(roomID, name string) error {
	g := t.st.groups[roomID]
	g.RoomName = name
	t.st.groups[roomID] = g
	return nil
}

func (t *memTx) SetGroupNotice(roomID, notice string) error {
	g := t.st.groups[roomID]
	g.Notice = notice
	t.st.groups[roomID] = g
	return nil
}

func (t *memTx) DeactivateGroup(roomID string, at time.Time) error {
	g := t.st.groups[roomID]
	g.IsActive = false
	t.st.groups[roomID] = g
	return t.QuitMember(roomID, "", at)
}

func (t *memTx) RefreshGroupStats(roomID string, syncedAt time.Time) error {
	g := t.st.groups[roomID]
	g.MemberCount = len(t.st.activeMembers(roomID))
	g.LastSyncTime = &syncedAt
	t.st.groups[roomID] = g
	return nil
}

func (t *memTx) CreateMediaFiles(files []*models.MediaFile) error {
	for _, f := range files {
		t.st.mediaSeq++
		f.ID = t.st.mediaSeq
		t.st.media[f.ID] = *f
	}
	return nil
}

func (t *memTx) AdvanceCursor(corpID, scope string, seq int64) error {
	key := corpID + "|" + scope
	if seq > t.st.cursors[key] {
		t.st.cursors[key] = seq
	}
	return nil
}

var (
	_ ArchiveStore           = (*memStore)(nil)
	_ TaskStore              = (*memStore)(nil)
	_ MediaRepo              = (*memStore)(nil)
	_ repository.BatchWriter = (*memTx)(nil)
)
