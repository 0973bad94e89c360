package relay

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// DefaultUserAgent 是代理向源站声明的固定 User-Agent。
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3"

// proxyControlledHeaders 由代理统一输出，客户端同名头部会被丢弃。
var proxyControlledHeaders = map[string]struct{}{
	"user-agent":       {},
	"connection":       {},
	"proxy-connection": {},
}

// headerName 返回头部行冒号前的名字；没有冒号或名字为空时返回 ErrMalformedHeader。
func headerName(line string) (string, string, error) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedHeader, strings.TrimSpace(line))
	}
	name := strings.TrimSpace(line[:idx])
	if name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedHeader, strings.TrimSpace(line))
	}
	return name, strings.TrimSpace(line[idx+1:]), nil
}

func isProxyControlled(name string) bool {
	_, ok := proxyControlledHeaders[strings.ToLower(name)]
	return ok
}

// forwardRequest 写出规范化请求行与代理头部，再逐行转发客户端其余头部，
// 缺少 Host 时补齐，最后写出空行。
func forwardRequest(dst io.Writer, rl RequestLine, userAgent string, client *bufio.Reader) error {
	w := bufio.NewWriter(dst)

	fmt.Fprintf(w, "%s\r\n", rl.String())
	fmt.Fprintf(w, "User-Agent: %s\r\n", userAgent)
	w.WriteString("Connection: close\r\n")
	w.WriteString("Proxy-Connection: close\r\n")

	haveHost := false
	for {
		line, err := readLine(client)
		if err != nil {
			return fmt.Errorf("read client header: %w", err)
		}
		if isBlankLine(line) {
			break
		}
		name, _, err := headerName(line)
		if err != nil {
			return err
		}
		if isProxyControlled(name) {
			continue
		}
		if strings.EqualFold(name, "Host") {
			haveHost = true
		}
		w.WriteString(line)
	}

	if !haveHost {
		fmt.Fprintf(w, "Host: %s\r\n", rl.Host)
	}
	w.WriteString("\r\n")

	if err := w.Flush(); err != nil {
		return fmt.Errorf("write origin request: %w", err)
	}
	return nil
}
