package locate

import (
	"container/list"
	"sync"
	"time"
)

// lru：进程内定位结果缓存，带 TTL
type lru struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
	now  func() time.Time
}

type entry struct {
	k   string
	v   Result
	ok  bool
	exp time.Time
}

func newLRU(capacity int, ttl time.Duration) *lru {
	return &lru{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[string]*list.Element), now: time.Now}
}

func (c *lru) get(k string) (Result, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		it := e.Value.(entry)
		if c.now().Before(it.exp) {
			c.lst.MoveToFront(e)
			return it.v, it.ok, true
		}
		c.lst.Remove(e)
		delete(c.dict, k)
	}
	return Result{}, false, false
}

func (c *lru) set(k string, v Result, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := entry{k: k, v: v, ok: ok, exp: c.now().Add(c.ttl)}
	if e, found := c.dict[k]; found {
		e.Value = it
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(entry).k)
		c.lst.Remove(back)
	}
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
