package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// maxLineSize 限制单行（请求行/头部行/状态行）长度。
const maxLineSize = 8192

func newLineReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, maxLineSize)
}

// readLine 读取一行（包含行尾），超长返回 ErrLineTooLong；
// 流结束时若还有残余数据则作为最后一行返回。
func readLine(r *bufio.Reader) (string, error) {
	raw, err := r.ReadSlice('\n')
	switch {
	case err == nil:
		return string(raw), nil
	case errors.Is(err, bufio.ErrBufferFull):
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrLineTooLong, maxLineSize)
	case errors.Is(err, io.EOF) && len(raw) > 0:
		return string(raw), nil
	default:
		return "", err
	}
}

func isBlankLine(line string) bool {
	return line == "\r\n" || line == "\n"
}
