// 包 session：标注会话的持久化（内存或 Redis），按浏览器会话 id 隔离
package session

import (
	"context"
	"sync"
	"time"

	"tz-rubeho/internal/annotate"

	"github.com/google/uuid"
)

// DefaultTTL：会话无访问后的保留时长
const DefaultTTL = 12 * time.Hour

// Store：按 id 读写会话；不存在时 Load 返回新的空会话
type Store interface {
	Load(ctx context.Context, id string) (annotate.Session, error)
	Save(ctx context.Context, id string, s annotate.Session) error
	Delete(ctx context.Context, id string) error
}

// NewID：生成会话 id
func NewID() string { return uuid.NewString() }

// ValidID：拒绝非 uuid 的 cookie 值，避免任意键写入后端
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type memEntry struct {
	s        annotate.Session
	lastSeen time.Time
}

// MemoryStore：进程内存储；过期项在写入时顺带清理
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]memEntry
	now   func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, items: make(map[string]memEntry), now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, id string) (annotate.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[id]
	if !ok || m.now().Sub(e.lastSeen) > m.ttl {
		delete(m.items, id)
		return annotate.NewSession(), nil
	}
	e.lastSeen = m.now()
	m.items[id] = e
	return clone(e.s), nil
}

func (m *MemoryStore) Save(_ context.Context, id string, s annotate.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.items {
		if now.Sub(e.lastSeen) > m.ttl {
			delete(m.items, k)
		}
	}
	m.items[id] = memEntry{s: clone(s), lastSeen: now}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
	return nil
}

// Len：当前保存的会话数（含未清理的过期项）
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func clone(s annotate.Session) annotate.Session {
	out := s
	out.Annotations = append([]annotate.Annotation{}, s.Annotations...)
	if s.Notice != nil {
		n := *s.Notice
		out.Notice = &n
	}
	return out
}
