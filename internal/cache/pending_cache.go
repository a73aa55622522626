package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/charging-platform/ocpp-attack-lab/internal/session"
)

// PendingManipulation 一次已注入但尚未得到应答的配置篡改
type PendingManipulation struct {
	MessageID     string            `json:"message_id"`
	ChargePointID string            `json:"charge_point_id"`
	Direction     session.Direction `json:"direction"`
	Action        string            `json:"action"`
	Strategy      string            `json:"strategy"`
	EventCount    int               `json:"event_count"`
	ManipulatedAt time.Time         `json:"manipulated_at"`
}

// Stats 缓存统计信息
type Stats struct {
	Size        int   `json:"size"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}

// Config 缓存配置
type Config struct {
	MaxEntries      int           `json:"max_entries" mapstructure:"max_entries" validate:"min=1"`
	TTL             time.Duration `json:"ttl" mapstructure:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// DefaultConfig 默认缓存配置
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      4096,
		TTL:             2 * time.Minute,
		CleanupInterval: 30 * time.Second,
	}
}

type pendingEntry struct {
	key       string
	value     PendingManipulation
	expiresAt time.Time
}

func (e *pendingEntry) expired(now time.Time) bool {
	if e.expiresAt.IsZero() {
		return false
	}
	return now.After(e.expiresAt)
}

// PendingCache 按消息ID关联请求与应答的LRU缓存
// 篡改过的CALL在此登记, 对应的CALLRESULT返程时取出
type PendingCache struct {
	entries map[string]*list.Element
	order   *list.List // 头部为最近写入
	config  *Config
	mutex   sync.Mutex

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPendingCache 创建缓存
func NewPendingCache(config *Config) *PendingCache {
	if config == nil {
		config = DefaultConfig()
	}
	return &PendingCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		config:  config,
		stopCh:  make(chan struct{}),
	}
}

// Put 登记一次待应答的篡改
// 相同消息ID重复登记时覆盖旧值并刷新TTL
func (c *PendingCache) Put(p PendingManipulation) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	var expiresAt time.Time
	if c.config.TTL > 0 {
		expiresAt = now.Add(c.config.TTL)
	}

	if elem, ok := c.entries[p.MessageID]; ok {
		entry := elem.Value.(*pendingEntry)
		entry.value = p
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&pendingEntry{key: p.MessageID, value: p, expiresAt: expiresAt})
	c.entries[p.MessageID] = elem

	for len(c.entries) > c.config.MaxEntries {
		c.evictOldest()
	}
}

// Take 取出并移除指定消息ID的登记项
func (c *PendingCache) Take(messageID string) (PendingManipulation, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	elem, ok := c.entries[messageID]
	if !ok {
		c.misses++
		return PendingManipulation{}, false
	}

	entry := c.order.Remove(elem).(*pendingEntry)
	delete(c.entries, messageID)

	if entry.expired(time.Now()) {
		c.expirations++
		c.misses++
		return PendingManipulation{}, false
	}

	c.hits++
	return entry.value, true
}

// Len 获取当前登记项数量
func (c *PendingCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Stats 获取缓存统计信息
func (c *PendingCache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Stats{
		Size:        len(c.entries),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// Start 启动过期清理循环
func (c *PendingCache) Start() {
	if c.config.CleanupInterval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.EvictExpired()
			}
		}
	}()
}

// Stop 停止清理循环
func (c *PendingCache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// EvictExpired 清理所有过期项, 返回清理数量
func (c *PendingCache) EvictExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*pendingEntry)
		if entry.expired(now) {
			c.order.Remove(elem)
			delete(c.entries, entry.key)
			c.expirations++
			removed++
		}
		elem = prev
	}
	return removed
}

// evictOldest 淘汰最久未写入的一项, 调用方需持有锁
func (c *PendingCache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	entry := c.order.Remove(elem).(*pendingEntry)
	delete(c.entries, entry.key)
	c.evictions++
}
