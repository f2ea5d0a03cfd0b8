package microboot

import (
	"fmt"

	"github.com/pkg/errors"
)

// 错误类型, 使用 errors.Is 判断
var (
	ErrUnsupportedDevice  = errors.New("unsupported device")
	ErrConnection         = errors.New("connection error")
	ErrTimeout            = errors.New("timeout")
	ErrProtocolMismatch   = errors.New("protocol mismatch")
	ErrParse              = errors.New("parse error")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrRange              = errors.New("range error")
	ErrValue              = errors.New("value error")
	ErrOutOfRange         = errors.New("address out of range")
	ErrConnectionRequired = errors.New("connection required")
	ErrAlreadyConnected   = errors.New("already connected")
	ErrVerify             = errors.New("verify failed")
)

// 设备拒绝了请求帧 (校验和或长度错误)
var NACKError = errors.WithMessage(ErrChecksumMismatch, "NACK")

// connectionError 串口错误, errors.Is 匹配 ErrConnection, Unwrap 返回串口驱动的原始错误
type connectionError struct {
	op  string
	err error
}

func newConnectionError(op string, err error) error {
	return &connectionError{op: op, err: err}
}

func (e *connectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrConnection, e.op, e.err)
}

func (e *connectionError) Is(target error) bool {
	return target == ErrConnection
}

func (e *connectionError) Unwrap() error {
	return e.err
}

func (e *connectionError) Cause() error {
	return e.err
}

// TransferError 读写过程中某一帧交换失败.
// Address 为失败帧的地址, Done 为此前已确认的字节数,
// 调用方可以从 Address 开始重新发起剩余部分.
type TransferError struct {
	Op      string
	Address uint16
	Done    int
	// 读操作中失败前已收到的数据
	Data []byte
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s at 0x%04X (%d bytes done): %v", e.Op, e.Address, e.Done, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
