package relay

// initialBufferSize 是响应缓冲的初始容量，之后按倍数增长但不超过上限。
const initialBufferSize = 8192

// ObjectBuffer 在转发响应时累积字节，一旦总量超过 limit 就放弃缓冲，
// 但 Write 仍然返回成功，保证对客户端的转发不受影响。
type ObjectBuffer struct {
	limit      int64
	data       []byte
	overflowed bool
}

// NewObjectBuffer 创建上限为 limit 字节的缓冲。
func NewObjectBuffer(limit int64) *ObjectBuffer {
	capacity := int64(initialBufferSize)
	if limit < capacity {
		capacity = limit
	}
	if capacity < 0 {
		capacity = 0
	}
	return &ObjectBuffer{
		limit: limit,
		data:  make([]byte, 0, capacity),
	}
}

// Write 实现 io.Writer。
func (b *ObjectBuffer) Write(p []byte) (int, error) {
	if b.overflowed {
		return len(p), nil
	}
	needed := int64(len(b.data)) + int64(len(p))
	if needed > b.limit {
		b.overflowed = true
		b.data = nil
		return len(p), nil
	}
	if needed > int64(cap(b.data)) {
		b.grow(needed)
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *ObjectBuffer) grow(needed int64) {
	newCap := int64(cap(b.data))
	if newCap == 0 {
		newCap = initialBufferSize
	}
	for newCap < needed {
		newCap <<= 1
	}
	if newCap > b.limit {
		newCap = b.limit
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// Cacheable 表示缓冲内容是否完整（从未超过上限）。
func (b *ObjectBuffer) Cacheable() bool {
	return !b.overflowed
}

// Bytes 返回已缓冲的内容；溢出后为 nil。
func (b *ObjectBuffer) Bytes() []byte {
	return b.data
}

// Len 返回已缓冲的字节数。
func (b *ObjectBuffer) Len() int {
	return len(b.data)
}

// Release 丢弃缓冲区，请求结束时无论成败都会调用。
func (b *ObjectBuffer) Release() {
	b.data = nil
}
