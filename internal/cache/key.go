package cache

import "strings"

// Key 是缓存对象的规范化标识：小写 host + ":" + port + path，并预先计算桶下标。
type Key struct {
	id    string
	index int
}

// NewKey 根据请求行中的 host/port/path 生成 Key，host 比较大小写不敏感。
func NewKey(host, port, path string) Key {
	var b strings.Builder
	b.Grow(len(host) + len(port) + len(path) + 1)
	b.WriteString(strings.ToLower(host))
	b.WriteByte(':')
	b.WriteString(port)
	b.WriteString(path)
	return KeyFromString(b.String())
}

// KeyFromString 用已规范化的字符串构造 Key，快照恢复时使用。
func KeyFromString(id string) Key {
	return Key{id: id, index: bucketIndex(id, DefaultBuckets)}
}

// String 返回规范化后的 key 字符串。
func (k Key) String() string {
	return k.id
}

// Index 返回基于默认桶数量预计算的桶下标。
func (k Key) Index() int {
	return k.index
}

// bucketIndex 使用 BKDR 哈希（seed=131）将 key 映射到 [0, buckets)。
func bucketIndex(id string, buckets int) int {
	const seed = 131
	var hash uint32
	for i := 0; i < len(id); i++ {
		hash = hash*seed + uint32(id[i])
	}
	return int((hash & 0x7FFFFFFF) % uint32(buckets))
}
