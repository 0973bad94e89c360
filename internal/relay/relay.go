package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/cacheproxy/internal/cache"
)

// DialFunc 建立到源站的连接，测试中可替换。
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options 描述 Relay 的可选参数。
type Options struct {
	Logger      *logrus.Logger
	UserAgent   string
	DialTimeout time.Duration
	Dial        DialFunc
}

// Outcome 汇总一次连接的处理结果，供调度器输出日志。
type Outcome struct {
	Method string
	Key    string
	Hit    bool
	Cached bool
	Bytes  int64
	Err    error
}

// Relay 持有共享缓存与转发参数，每个连接调用一次 Serve。
type Relay struct {
	cache     *cache.Cache
	logger    *logrus.Logger
	userAgent string
	dial      DialFunc
}

// New 构造 Relay；cache 为所有连接共享的实例。
func New(c *cache.Cache, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	dial := opts.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: opts.DialTimeout}).DialContext
	}
	return &Relay{
		cache:     c,
		logger:    logger,
		userAgent: userAgent,
		dial:      dial,
	}
}

// Serve 处理单个客户端连接直到结束，返回前总会关闭 conn。
func (r *Relay) Serve(ctx context.Context, conn net.Conn) (outcome Outcome) {
	defer conn.Close()

	client := newLineReader(conn)
	line, err := readLine(client)
	if err != nil {
		outcome.Err = fmt.Errorf("read request line: %w", err)
		return outcome
	}
	rl, err := ParseRequestLine(line)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Method = rl.Method
	if rl.Method != supportedMethod {
		outcome.Err = fmt.Errorf("%w: %s", ErrUnsupportedMethod, rl.Method)
		return outcome
	}

	key := rl.CacheKey()
	outcome.Key = key.String()

	if body, ok := r.cache.Lookup(key); ok {
		outcome.Hit = true
		n, err := conn.Write(body)
		outcome.Bytes = int64(n)
		if err != nil {
			outcome.Err = fmt.Errorf("write cached object: %w", err)
		}
		return outcome
	}

	origin, err := r.dial(ctx, "tcp", rl.Address())
	if err != nil {
		outcome.Err = fmt.Errorf("dial origin %s: %w", rl.Address(), err)
		return outcome
	}
	defer origin.Close()

	if err := forwardRequest(origin, rl, r.userAgent, client); err != nil {
		outcome.Err = err
		return outcome
	}

	buffer := NewObjectBuffer(r.cache.MaxObjectSize())
	defer buffer.Release()

	written, err := relayResponse(newLineReader(origin), io.MultiWriter(conn, buffer))
	outcome.Bytes = written
	if err != nil {
		outcome.Err = err
		return outcome
	}

	if !buffer.Cacheable() {
		r.logger.WithFields(logrus.Fields{
			"action": "cache_skip",
			"key":    outcome.Key,
			"bytes":  written,
		}).Debug("object exceeds max object size")
		return outcome
	}
	if err := r.cache.Insert(key, buffer.Bytes()); err != nil {
		outcome.Err = fmt.Errorf("cache insert: %w", err)
		return outcome
	}
	outcome.Cached = true
	return outcome
}

// IsClientError 判断错误是否只是客户端请求不受支持，调度器据此降低日志级别。
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnsupportedMethod)
}
