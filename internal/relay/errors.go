package relay

import "errors"

// 协议与转发阶段的哨兵错误，调用方用 errors.Is 判断。
var (
	ErrMalformedRequest  = errors.New("malformed request line")
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrMalformedHeader   = errors.New("malformed header line")
	ErrMalformedResponse = errors.New("malformed response")
	ErrLengthMismatch    = errors.New("entity length mismatch")
	ErrLineTooLong       = errors.New("line too long")
)
