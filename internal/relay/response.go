package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const bodyChunkSize = 8192

// StatusLine 是源站响应行的解析结果。
type StatusLine struct {
	Version string
	Code    int
}

// ParseStatusLine 解析 `VERSION SP CODE [SP REASON]`，状态码必须为三位数字。
func ParseStatusLine(line string) (StatusLine, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields[1]) != 3 {
		return StatusLine{}, fmt.Errorf("%w: status line %q", ErrMalformedResponse, strings.TrimSpace(line))
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 {
		return StatusLine{}, fmt.Errorf("%w: status code %q", ErrMalformedResponse, fields[1])
	}
	return StatusLine{Version: fields[0], Code: code}, nil
}

// HasEntity 报告该状态码是否可能携带正文：1xx、204、304 一律没有。
func (s StatusLine) HasEntity() bool {
	return s.Code >= 200 && s.Code != 204 && s.Code != 304
}

// relayResponse 将源站响应逐行/逐块写入 out（客户端 + 缓冲），返回写出的字节数。
// Content-Length 决定正文长度；缺省时读到源站关闭连接为止。
func relayResponse(origin *bufio.Reader, out io.Writer) (int64, error) {
	var written int64
	emit := func(p []byte) error {
		n, err := out.Write(p)
		written += int64(n)
		if err != nil {
			return fmt.Errorf("write client: %w", err)
		}
		return nil
	}

	line, err := readLine(origin)
	if err != nil {
		return written, fmt.Errorf("read status line: %w", err)
	}
	status, err := ParseStatusLine(line)
	if err != nil {
		return written, err
	}
	if err := emit([]byte(line)); err != nil {
		return written, err
	}

	hasEntity := status.HasEntity()
	length := int64(-1)
	for {
		line, err := readLine(origin)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return written, fmt.Errorf("read response header: %w", err)
		}
		if !isBlankLine(line) {
			name, value, err := headerName(line)
			if err != nil {
				return written, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			}
			if strings.EqualFold(name, "Content-Length") {
				n, err := strconv.ParseInt(value, 10, 64)
				if err != nil || n < 0 {
					return written, fmt.Errorf("%w: content-length %q", ErrMalformedResponse, value)
				}
				length = n
				if n == 0 {
					hasEntity = false
				}
			}
		}
		if err := emit([]byte(line)); err != nil {
			return written, err
		}
		if isBlankLine(line) {
			break
		}
	}

	if !hasEntity {
		return written, nil
	}

	chunk := make([]byte, bodyChunkSize)
	remaining := length
	for length < 0 || remaining > 0 {
		want := chunk
		if length >= 0 && remaining < int64(len(want)) {
			want = chunk[:remaining]
		}
		n, err := origin.Read(want)
		if n > 0 {
			remaining -= int64(n)
			if werr := emit(want[:n]); werr != nil {
				return written, werr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return written, fmt.Errorf("read response body: %w", err)
		}
	}

	if length > 0 && remaining != 0 {
		return written, fmt.Errorf("%w: %d bytes missing", ErrLengthMismatch, remaining)
	}
	return written, nil
}
