package relay

import (
	"fmt"
	"net"
	"strings"

	"github.com/any-hub/cacheproxy/internal/cache"
)

const (
	supportedMethod = "GET"
	outboundVersion = "HTTP/1.0"
	defaultPort     = "80"
	defaultPath     = "/"
	uriScheme       = "http://"
)

// RequestLine 保存客户端请求行解析后的字段，version 在转发时固定为 HTTP/1.0。
type RequestLine struct {
	Method  string
	Host    string
	Port    string
	Path    string
	Version string
}

// ParseRequestLine 解析 `METHOD SP http://host[:port][/path] SP VERSION`。
// 方法不在这里校验，交由调用方决定是否转发。
func ParseRequestLine(line string) (RequestLine, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return RequestLine{}, fmt.Errorf("%w: %q", ErrMalformedRequest, strings.TrimSpace(line))
	}
	method, uri := fields[0], fields[1]

	if len(uri) < len(uriScheme) || !strings.EqualFold(uri[:len(uriScheme)], uriScheme) {
		return RequestLine{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	}
	rest := uri[len(uriScheme):]

	hostPort, path := rest, defaultPath
	if idx := strings.IndexAny(rest, "/?"); idx >= 0 {
		hostPort, path = rest[:idx], rest[idx:]
		if path[0] == '?' {
			path = defaultPath + path
		}
	}

	host, port := hostPort, defaultPort
	if idx := strings.IndexByte(hostPort, ':'); idx >= 0 {
		host = hostPort[:idx]
		if p := hostPort[idx+1:]; p != "" {
			port = p
		}
	}
	if host == "" {
		return RequestLine{}, fmt.Errorf("%w: missing host in %q", ErrMalformedRequest, uri)
	}

	return RequestLine{
		Method:  method,
		Host:    host,
		Port:    port,
		Path:    path,
		Version: outboundVersion,
	}, nil
}

// CacheKey 返回 (host, port, path) 对应的缓存键。
func (r RequestLine) CacheKey() cache.Key {
	return cache.NewKey(r.Host, r.Port, r.Path)
}

// Address 返回拨号使用的 host:port。
func (r RequestLine) Address() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// String 输出发往源站的规范化请求行（不含行尾）。
func (r RequestLine) String() string {
	return r.Method + " " + r.Path + " " + r.Version
}
