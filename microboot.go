package microboot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Session 与一个 Microboot 设备的连接.
// 所有交换都是同步的一问一答, 同一时刻只有一帧在传输.
type Session struct {
	mu     sync.Mutex
	cfg    config
	state  State
	conn   *lineConn
	device *Device
	info   DeviceInfo
	codec  *Codec
}

func New(opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{
		cfg:   cfg,
		codec: NewCodec(cfg.packetSize),
	}
}

/*
 * @Description: 连接设备
 * @param deviceName 芯片名称
 * @param portName 串口
 * @return *Device 芯片信息
 * @return error ErrUnsupportedDevice, ErrConnection, ErrTimeout, ErrProtocolMismatch
 */
func (s *Session) Connect(ctx context.Context, deviceName string, portName string) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateConnected {
		return nil, errors.Wrapf(ErrAlreadyConnected, "to %s", s.device.Name)
	}
	device, err := s.cfg.catalog.Lookup(deviceName)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := s.cfg.opener(portName, s.cfg.baudRate)
	if err != nil {
		return nil, newConnectionError("open "+portName, err)
	}
	s.conn = newLineConn(port)

	if s.cfg.autoReset {
		if err := activate(port); err != nil {
			s.drop()
			return nil, newConnectionError("reset "+portName, err)
		}
	}

	info, err := s.query()
	if err != nil {
		s.drop()
		return nil, errors.WithMessage(err, "query")
	}
	if info.Family != device.Family || info.Model != device.Model || info.Protocol != device.Protocol {
		s.drop()
		return nil, errors.Wrapf(ErrProtocolMismatch,
			"expected %s (family 0x%02X, model 0x%02X, protocol 0x%02X), device reports family 0x%02X, model 0x%02X, protocol 0x%02X",
			device.Name, device.Family, device.Model, device.Protocol, info.Family, info.Model, info.Protocol)
	}

	// 以设备报告的包大小为准
	packetSize := int(info.PacketSize)
	if packetSize == 0 {
		packetSize = s.cfg.packetSize
	}
	if packetSize != s.cfg.packetSize {
		s.cfg.logger.Debug().
			Int("configured", s.cfg.packetSize).
			Int("device", packetSize).
			Msg("using device packet size")
	}

	s.codec = NewCodec(packetSize)
	s.device = device
	s.info = info
	s.state = StateConnected

	s.cfg.logger.Info().
		Str("device", device.Name).
		Str("port", portName).
		Int("packet_size", packetSize).
		Str("protocol", fmt.Sprintf("0x%02X", info.Protocol)).
		Msg("connected")

	d := *device
	return &d, nil
}

/*
 * @Description: 断开连接, 未连接时无操作
 */
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	s.drop()
	s.cfg.logger.Info().Msg("disconnected")
}

// drop 关闭串口并回到未连接状态
func (s *Session) drop() {
	if s.conn != nil {
		if err := s.conn.close(); err != nil {
			s.cfg.logger.Debug().Err(err).Msg("close port")
		}
	}
	s.conn = nil
	s.device = nil
	s.info = DeviceInfo{}
	s.codec = NewCodec(s.cfg.packetSize)
	s.state = StateDisconnected
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device 已连接的芯片, 未连接时为 nil
func (s *Session) Device() *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	d := *s.device
	return &d
}

// Info 连接时设备返回的信息
func (s *Session) Info() (DeviceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.state == StateConnected
}

func (s *Session) PacketSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec.PacketSize()
}

/*
 * @Description: 读取 flash
 * @param start 起始地址
 * @param length 字节数
 * @return data 按包读取的数据, 长度为包大小的整数倍, 由调用方截取 length 字节
 * @return err 交换失败时为 *TransferError
 */
func (s *Session) Read(ctx context.Context, start uint16, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRange(start, length); err != nil {
		return nil, err
	}

	packetSize := s.codec.PacketSize()
	count := (length + packetSize - 1) / packetSize
	data := make([]byte, 0, count*packetSize)
	address := start
	for index := 0; index < count; index++ {
		if err := ctx.Err(); err != nil {
			return nil, &TransferError{Op: "read", Address: address, Done: len(data), Data: data, Err: err}
		}
		chunk, err := s.readPacket(address)
		if err != nil {
			return nil, &TransferError{Op: "read", Address: address, Done: len(data), Data: data, Err: err}
		}
		data = append(data, chunk...)
		s.report(min(len(data), length), length)
		address += uint16(packetSize)
	}
	return data, nil
}

/*
 * @Description: 写入 flash, 最后不足一包的部分用填充字节补齐
 * @param start 起始地址
 * @param length 字节数
 * @param data 数据, 至少 length 字节
 * @return error 交换失败时为 *TransferError
 */
func (s *Session) Write(ctx context.Context, start uint16, length int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRange(start, length); err != nil {
		return err
	}
	if len(data) < length {
		return errors.Wrapf(ErrRange, "write of %d bytes with %d bytes of data", length, len(data))
	}

	packetSize := s.codec.PacketSize()
	count := (length + packetSize - 1) / packetSize
	last := int(start) + count*packetSize - 1
	if last > int(s.device.AddressHigh) && s.device.Size() < packetSize {
		return errors.Wrapf(ErrOutOfRange, "%s range 0x%04X:0x%04X is smaller than one %d byte packet",
			s.device.Name, s.device.AddressLow, s.device.AddressHigh, packetSize)
	}

	buff := make([]byte, packetSize)
	address := start
	for index := 0; index < count; index++ {
		offset := index * packetSize
		if err := ctx.Err(); err != nil {
			return &TransferError{Op: "write", Address: address, Done: offset, Err: err}
		}

		chunk := data[offset:min(offset+packetSize, length)]
		packet, pos, n := address, 0, 0
		if int(address)+packetSize-1 > int(s.device.AddressHigh) {
			// 最后一包会越过 AddressHigh: 改为以 AddressHigh 结尾, 包内其余字节保持原内容
			packet = s.device.AddressHigh - uint16(packetSize-1)
			memory, err := s.readPacket(packet)
			if err != nil {
				return &TransferError{Op: "write", Address: address, Done: offset, Err: err}
			}
			copy(buff, memory)
			pos = int(address - packet)
			n = copy(buff[pos:], chunk)
		} else {
			n = copy(buff, chunk)
			for i := n; i < packetSize; i++ {
				buff[i] = s.cfg.padByte
			}
		}

		if err := s.writePacket(packet, buff); err != nil {
			return &TransferError{Op: "write", Address: address, Done: offset, Err: err}
		}

		if s.cfg.verify {
			memory, err := s.readPacket(packet)
			if err != nil {
				return &TransferError{Op: "verify", Address: address, Done: offset, Err: err}
			}
			if !bytes.Equal(memory[pos:pos+n], buff[pos:pos+n]) {
				return &TransferError{Op: "verify", Address: address, Done: offset,
					Err: errors.Wrapf(ErrVerify, "wrote %s, read back %s",
						bytesToHex(buff[pos:pos+n]), bytesToHex(memory[pos:pos+n]))}
			}
		}

		s.report(offset+n, length)
		address += uint16(packetSize)
	}
	return nil
}

/*
 * @Description: 复位设备, 设备会直接启动应用程序, 因此不等待应答并断开连接
 */
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return ErrConnectionRequired
	}
	request := s.codec.EncodeReset()
	if err := s.conn.writeLine(request); err != nil {
		s.drop()
		return err
	}
	s.cfg.sink(request, "")
	s.cfg.logger.Info().Str("device", s.device.Name).Msg("reset")
	s.drop()
	return nil
}

func (s *Session) checkRange(start uint16, length int) error {
	if s.state != StateConnected {
		return ErrConnectionRequired
	}
	if !s.device.Contains(start, length) {
		return errors.Wrapf(ErrOutOfRange, "0x%04X+%d outside %s range 0x%04X:0x%04X",
			start, length, s.device.Name, s.device.AddressLow, s.device.AddressHigh)
	}
	return nil
}

func (s *Session) report(done, total int) {
	if s.cfg.progress != nil {
		s.cfg.progress(done, total)
	}
}

/*
 * @Description: 一次帧交换: 发送请求并等待一行应答
 */
func (s *Session) exchange(request string) (string, error) {
	if err := s.conn.flush(); err != nil {
		s.drop()
		return "", err
	}
	if err := s.conn.writeLine(request); err != nil {
		s.drop()
		return "", err
	}
	response, err := s.conn.readLine(s.cfg.timeout)
	s.cfg.sink(request, response)
	s.cfg.logger.Debug().
		Str("sent", strings.TrimSpace(request)).
		Str("received", strings.TrimSpace(response)).
		Msg("exchange")
	if err != nil {
		if errors.Is(err, ErrConnection) {
			s.drop()
		}
		return "", err
	}
	return response, nil
}

func (s *Session) query() (DeviceInfo, error) {
	response, err := s.exchange(s.codec.EncodeQuery())
	if err != nil {
		return DeviceInfo{}, err
	}
	block, err := DecodeResponse(response)
	if err != nil {
		return DeviceInfo{}, err
	}
	return ParseInfo(block)
}

func (s *Session) readPacket(address uint16) ([]byte, error) {
	response, err := s.exchange(s.codec.EncodeRead(address))
	if err != nil {
		return nil, err
	}
	block, err := DecodeResponse(response)
	if err != nil {
		return nil, err
	}
	return s.codec.ParseReadResponse(block, address)
}

func (s *Session) writePacket(address uint16, data []byte) error {
	request, err := s.codec.EncodeWrite(address, data, 0)
	if err != nil {
		return err
	}
	response, err := s.exchange(request)
	if err != nil {
		return err
	}
	block, err := DecodeResponse(response)
	if err != nil {
		return err
	}
	if block != nil {
		return errors.Wrapf(ErrParse, "unexpected data in write acknowledgement %q", strings.TrimSpace(response))
	}
	return nil
}
