// Package dedup 提供按内容指纹去重的 LRU 缓存：相同字节的图像
// 只物化一次，后续命中直接复用已保存的文件路径。
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fingerprint returns the hex sha256 of the image bytes, the cache key.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Cache is a strict-LRU fingerprint → path cache. Concurrent misses on
// the same fingerprint collapse into a single materialization: losers
// of the race wait for the winner's result instead of redoing the work.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruNode
	head     *lruNode // 最近使用
	tail     *lruNode // 最久未使用

	group  singleflight.Group
	logger *zap.Logger
}

type lruNode struct {
	key  string
	path string
	prev *lruNode
	next *lruNode
}

// NewCache creates a cache holding at most capacity entries.
func NewCache(capacity int, logger *zap.Logger) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*lruNode),
		logger:   logger.With(zap.String("component", "dedup")),
	}
}

// GetOrStore returns the materialized path for a fingerprint. On a hit
// the producer is never invoked. On a miss exactly one caller runs the
// producer; everyone racing on the same fingerprint receives its result.
// The bool reports whether the value came from cache.
func (c *Cache) GetOrStore(fp string, materialize func() (string, error)) (string, bool, error) {
	if path, ok := c.get(fp); ok {
		return path, true, nil
	}

	var produced bool
	v, err, _ := c.group.Do(fp, func() (any, error) {
		// 竞争失败方进入时胜者可能已写入
		if path, ok := c.get(fp); ok {
			return path, nil
		}
		path, err := materialize()
		if err != nil {
			return "", err
		}
		c.set(fp, path)
		produced = true
		return path, nil
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), !produced, nil
}

// Put 直接写入或更新指纹对应的路径，已存在时视为一次访问。
func (c *Cache) Put(fp, path string) {
	c.set(fp, path)
}

// Get returns the cached path without materializing.
func (c *Cache) Get(fp string) (string, bool) {
	return c.get(fp)
}

// Len returns the number of cached fingerprints.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) get(fp string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[fp]
	if !ok {
		return "", false
	}
	c.moveToHead(node)
	return node.path, true
}

func (c *Cache) set(fp, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[fp]; ok {
		node.path = path
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{key: fp, path: path}
	c.items[fp] = node
	c.addToHead(node)
}

// addToHead 添加节点到头部 O(1)
func (c *Cache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

// removeNode 从链表中移除节点 O(1)
func (c *Cache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

// moveToHead 移动节点到头部 O(1)
func (c *Cache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

// evictTail 淘汰尾部节点 O(1)
func (c *Cache) evictTail() {
	if c.tail == nil {
		return
	}
	c.logger.Debug("evicting fingerprint", zap.String("fingerprint", c.tail.key))
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}
