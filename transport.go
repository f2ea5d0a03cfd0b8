package microboot

import (
	"bytes"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Port 会话使用的串口能力, serial.Port 满足此接口
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// Opener 打开串口
type Opener func(portName string, baudRate int) (Port, error)

// 单次 Read 的最长阻塞时间, 整帧的超时由调用方控制
const pollInterval = 50 * time.Millisecond

// OpenSerial 以 8N1 打开串口
func OpenSerial(portName string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate:          baudRate,
		DataBits:          8,
		StopBits:          serial.OneStopBit,
		Parity:            serial.NoParity,
		InitialStatusBits: &serial.ModemOutputBits{RTS: false, DTR: false},
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		_ = port.Close()
		return nil, err
	}
	return port, nil
}

// lineConn 在 Port 之上按行收发
type lineConn struct {
	port    Port
	pending []byte
}

func newLineConn(port Port) *lineConn {
	return &lineConn{port: port}
}

/*
 * @Description: 清空接收缓冲, 丢弃上一次超时后迟到的应答
 */
func (c *lineConn) flush() error {
	c.pending = c.pending[:0]
	if err := c.port.ResetInputBuffer(); err != nil {
		return newConnectionError("flush", err)
	}
	return nil
}

func (c *lineConn) writeLine(line string) error {
	if _, err := io.WriteString(c.port, line); err != nil {
		return newConnectionError("write", err)
	}
	return nil
}

/*
 * @Description: 读取一行 (包含换行)
 * @param after 超时时间
 * @return string
 * @return error 超时返回 ErrTimeout, 串口错误返回 ErrConnection
 */
func (c *lineConn) readLine(after time.Duration) (string, error) {
	deadline := time.Now().Add(after)
	buff := make([]byte, 64)
	for {
		if index := bytes.IndexByte(c.pending, EOL); index >= 0 {
			line := string(c.pending[:index+1])
			c.pending = append(c.pending[:0], c.pending[index+1:]...)
			return line, nil
		}
		if !time.Now().Before(deadline) {
			return "", errors.Wrapf(ErrTimeout, "no response within %s", after)
		}
		n, err := c.port.Read(buff)
		c.pending = append(c.pending, buff[:n]...)
		if err != nil {
			// 部分驱动在读超时时返回 EOF
			if err == io.EOF {
				continue
			}
			return "", newConnectionError("read", err)
		}
	}
}

func (c *lineConn) close() error {
	return c.port.Close()
}

/*
 * @Description: 通过 DTR/RTS 复位芯片进入 bootloader
 */
func activate(port Port) error {
	if err := port.SetDTR(false); err != nil {
		return err
	}
	if err := port.SetRTS(false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)

	if err := port.SetDTR(true); err != nil {
		return err
	}
	if err := port.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)

	if err := port.SetDTR(false); err != nil {
		return err
	}
	if err := port.SetRTS(false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}
