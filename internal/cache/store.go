package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// 默认容量参数，与最初的代理实现保持一致。
const (
	DefaultCapacity      int64 = 1049000
	DefaultMaxObjectSize int64 = 102400
	DefaultBuckets             = 1009
)

// ErrObjectTooLarge 表示写入对象超过单对象上限。
var ErrObjectTooLarge = errors.New("cache object too large")

// Options 控制缓存容量；零值回退到默认常量。
type Options struct {
	Capacity      int64
	MaxObjectSize int64
	Buckets       int
}

// Stats 是缓存的只读快照，供诊断接口与日志使用。
type Stats struct {
	Entries       int   `json:"entries"`
	TotalSize     int64 `json:"total_size"`
	Capacity      int64 `json:"capacity"`
	MaxObjectSize int64 `json:"max_object_size"`
	Buckets       int   `json:"buckets"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Inserts       int64 `json:"inserts"`
	Evictions     int64 `json:"evictions"`
}

type entry struct {
	key  string
	body []byte
}

// bucket 的链表 Front 为桶内最久未使用，Back 为最近使用。
type bucket struct {
	mu    sync.Mutex
	items *list.List
}

// Cache 是所有连接共享的对象缓存。
//
// gate 以读模式保护 Lookup/Stats/Walk，以写模式保护 Insert 及其内部淘汰；
// 每个桶自带互斥锁，用于命中提升等链表修改。
type Cache struct {
	gate    sync.RWMutex
	buckets []bucket

	capacity      int64
	maxObjectSize int64

	// totalSize 与 cursor 只在持有写锁时修改。
	totalSize int64
	cursor    int

	hits      atomic.Int64
	misses    atomic.Int64
	inserts   atomic.Int64
	evictions atomic.Int64
}

// New 按 Options 构建缓存，所有桶在启动时一次性分配。
func New(opts Options) (*Cache, error) {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxObjectSize == 0 {
		opts.MaxObjectSize = DefaultMaxObjectSize
	}
	if opts.Buckets == 0 {
		opts.Buckets = DefaultBuckets
	}
	if opts.Capacity < 0 || opts.MaxObjectSize < 0 || opts.Buckets < 0 {
		return nil, fmt.Errorf("invalid cache options: %+v", opts)
	}
	if opts.MaxObjectSize > opts.Capacity {
		return nil, fmt.Errorf("max object size %d exceeds capacity %d", opts.MaxObjectSize, opts.Capacity)
	}

	c := &Cache{
		buckets:       make([]bucket, opts.Buckets),
		capacity:      opts.Capacity,
		maxObjectSize: opts.MaxObjectSize,
	}
	for i := range c.buckets {
		c.buckets[i].items = list.New()
	}
	return c, nil
}

// MaxObjectSize 返回单对象上限，relay 据此决定是否放弃缓冲。
func (c *Cache) MaxObjectSize() int64 {
	return c.maxObjectSize
}

// Lookup 查找 key，命中时把条目移动到桶尾（最近使用）并返回正文。
// 返回的切片在写入后不会再被修改，可以在锁外安全使用。
func (c *Cache) Lookup(key Key) ([]byte, bool) {
	c.gate.RLock()
	defer c.gate.RUnlock()

	b := &c.buckets[c.bucketFor(key)]
	b.mu.Lock()
	defer b.mu.Unlock()

	for e := b.items.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if ent.key == key.id {
			b.items.MoveToBack(e)
			c.hits.Add(1)
			return ent.body, true
		}
	}
	c.misses.Add(1)
	return nil, false
}

// Insert 复制 body 并追加到目标桶尾部；总量超出容量时先按轮转顺序淘汰。
// 同一 key 已存在时旧条目会被替换，避免重复挂链。
func (c *Cache) Insert(key Key, body []byte) error {
	size := int64(len(body))
	if size > c.maxObjectSize {
		return fmt.Errorf("%w: %d > %d", ErrObjectTooLarge, size, c.maxObjectSize)
	}
	owned := make([]byte, len(body))
	copy(owned, body)

	c.gate.Lock()
	defer c.gate.Unlock()

	b := &c.buckets[c.bucketFor(key)]
	c.removeLocked(b, key.id)

	if c.totalSize+size > c.capacity {
		c.evictToFit(size)
	}

	b.mu.Lock()
	b.items.PushBack(&entry{key: key.id, body: owned})
	b.mu.Unlock()

	c.totalSize += size
	c.inserts.Add(1)
	return nil
}

// removeLocked 删除桶内同名条目，调用方必须持有写锁。
func (c *Cache) removeLocked(b *bucket, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := b.items.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if ent.key == id {
			b.items.Remove(e)
			c.totalSize -= int64(len(ent.body))
			return
		}
	}
}

// evictToFit 从游标位置开始轮转各桶，每次淘汰非空桶的头部条目，直到能容纳 size。
// 游标只在写锁内读写。
func (c *Cache) evictToFit(size int64) {
	for c.totalSize+size > c.capacity && c.totalSize > 0 {
		b := &c.buckets[c.cursor]
		c.cursor = (c.cursor + 1) % len(c.buckets)

		b.mu.Lock()
		front := b.items.Front()
		if front == nil {
			b.mu.Unlock()
			continue
		}
		ent := b.items.Remove(front).(*entry)
		b.mu.Unlock()

		c.totalSize -= int64(len(ent.body))
		c.evictions.Add(1)
	}
}

// Teardown 释放全部条目，仅在进程退出时调用。
func (c *Cache) Teardown() {
	c.gate.Lock()
	defer c.gate.Unlock()

	for i := range c.buckets {
		b := &c.buckets[i]
		b.mu.Lock()
		b.items.Init()
		b.mu.Unlock()
	}
	c.totalSize = 0
	c.cursor = 0
}

// Stats 返回当前容量与命中统计。
func (c *Cache) Stats() Stats {
	c.gate.RLock()
	defer c.gate.RUnlock()

	entries := 0
	for i := range c.buckets {
		b := &c.buckets[i]
		b.mu.Lock()
		entries += b.items.Len()
		b.mu.Unlock()
	}
	return Stats{
		Entries:       entries,
		TotalSize:     c.totalSize,
		Capacity:      c.capacity,
		MaxObjectSize: c.maxObjectSize,
		Buckets:       len(c.buckets),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Inserts:       c.inserts.Load(),
		Evictions:     c.evictions.Load(),
	}
}

// Walk 按桶顺序、桶内由旧到新遍历所有条目，不做命中提升；fn 返回 false 时提前结束。
// 每个桶先在锁内拷出引用，再在锁外回调，fn 可以执行 I/O。
func (c *Cache) Walk(fn func(key string, body []byte) bool) {
	c.gate.RLock()
	defer c.gate.RUnlock()

	var batch []*entry
	for i := range c.buckets {
		b := &c.buckets[i]
		b.mu.Lock()
		batch = batch[:0]
		for e := b.items.Front(); e != nil; e = e.Next() {
			batch = append(batch, e.Value.(*entry))
		}
		b.mu.Unlock()

		for _, ent := range batch {
			if !fn(ent.key, ent.body) {
				return
			}
		}
	}
}

func (c *Cache) bucketFor(key Key) int {
	if len(c.buckets) == DefaultBuckets {
		return key.index
	}
	return bucketIndex(key.id, len(c.buckets))
}

// checkIntegrity 校验每个桶的前后指针一致，且 totalSize 等于全部条目大小之和。
func (c *Cache) checkIntegrity() error {
	c.gate.RLock()
	defer c.gate.RUnlock()

	var sum int64
	for i := range c.buckets {
		b := &c.buckets[i]
		b.mu.Lock()
		count := 0
		var prev *list.Element
		for e := b.items.Front(); e != nil; e = e.Next() {
			if e.Prev() != prev {
				b.mu.Unlock()
				return fmt.Errorf("bucket %d: broken prev link at position %d", i, count)
			}
			if idx := bucketIndex(e.Value.(*entry).key, len(c.buckets)); idx != i {
				b.mu.Unlock()
				return fmt.Errorf("bucket %d: entry hashed to bucket %d", i, idx)
			}
			sum += int64(len(e.Value.(*entry).body))
			prev = e
			count++
		}
		if b.items.Back() != prev || b.items.Len() != count {
			b.mu.Unlock()
			return fmt.Errorf("bucket %d: length %d but walked %d", i, b.items.Len(), count)
		}
		b.mu.Unlock()
	}
	if sum != c.totalSize {
		return fmt.Errorf("total size %d but entries sum to %d", c.totalSize, sum)
	}
	return nil
}
