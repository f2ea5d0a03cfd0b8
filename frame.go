package microboot

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Command byte

const (
	CommandRead  Command = 'R' // 读取一个数据包
	CommandWrite Command = 'W' // 写入一个数据包
	CommandQuery Command = '?' // 查询协议版本、包大小及芯片型号
	CommandReset Command = '!' // 退出 bootloader, 启动应用程序
)

func (c Command) String() string {
	switch c {
	case CommandRead:
		return "read"
	case CommandWrite:
		return "write"
	case CommandQuery:
		return "query"
	case CommandReset:
		return "reset"
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(c))
}

// 设备应答
const (
	ResponseOK   = '+'
	ResponseFail = '-'
	EOL          = '\n'
)

const (
	DefaultPacketSize = 16
	addressSize       = 2
	checksumSize      = 2
	infoSize          = 4
)

// Frame 一个请求帧
type Frame struct {
	Command  Command
	Address  uint16
	Payload  []byte
	Checksum uint16
}

// DeviceInfo 查询命令返回的设备信息
type DeviceInfo struct {
	Protocol   uint8
	PacketSize uint8
	Family     uint8
	Model      uint8
}

// Codec 按固定包大小编解码帧
type Codec struct {
	packetSize int
}

func NewCodec(packetSize int) *Codec {
	if packetSize <= 0 {
		packetSize = DefaultPacketSize
	}
	return &Codec{packetSize: packetSize}
}

func (c *Codec) PacketSize() int {
	return c.packetSize
}

func addressBytes(address uint16) []byte {
	return []byte{byte(address >> 8), byte(address)}
}

func checksumHex(check uint16) string {
	return fmt.Sprintf("%02X%02X", byte(check>>8), byte(check))
}

/*
 * @Description: 生成写命令
 * @param address 写入地址
 * @param data 数据
 * @param offset 从 data[offset] 起取 packetSize 个字节
 * @return string 以换行结束的命令
 * @return error 数据不足时返回 ErrRange
 */
func (c *Codec) EncodeWrite(address uint16, data []byte, offset int) (string, error) {
	if offset < 0 || offset+c.packetSize > len(data) {
		return "", errors.Wrapf(ErrRange, "write needs %d bytes at offset %d, have %d", c.packetSize, offset, len(data))
	}
	addr := addressBytes(address)
	check, err := Accumulate(ChecksumSeed, addr, 0, -1)
	if err != nil {
		return "", err
	}
	if check, err = Accumulate(check, data, offset, c.packetSize); err != nil {
		return "", err
	}
	return fmt.Sprintf("%c%s%s%s%c",
		CommandWrite,
		bytesToHex(addr),
		bytesToHex(data[offset:offset+c.packetSize]),
		checksumHex(check),
		EOL,
	), nil
}

// EncodeRead 生成读命令, 校验和只覆盖地址
func (c *Codec) EncodeRead(address uint16) string {
	addr := addressBytes(address)
	return fmt.Sprintf("%c%s%s%c", CommandRead, bytesToHex(addr), checksumHex(checksum(addr)), EOL)
}

// 查询和复位命令只有命令字符, 设备要求其后紧跟换行
func (c *Codec) EncodeQuery() string {
	return string([]byte{byte(CommandQuery), EOL})
}

func (c *Codec) EncodeReset() string {
	return string([]byte{byte(CommandReset), EOL})
}

func trimLine(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// decodeBlock 解析 "数据+校验和" 的十六进制块并校验
func decodeBlock(hexStr string) ([]byte, uint16, error) {
	raw, err := hexCharToBytes(hexStr)
	if err != nil {
		return nil, 0, err
	}
	if len(raw) < checksumSize {
		return nil, 0, errors.Wrapf(ErrParse, "block too short (%d bytes)", len(raw))
	}
	body := raw[:len(raw)-checksumSize]
	sent := uint16(raw[len(raw)-2])<<8 | uint16(raw[len(raw)-1])
	if expected := checksum(body); expected != sent {
		return nil, sent, errors.Wrapf(ErrChecksumMismatch, "got 0x%04X, expected 0x%04X", sent, expected)
	}
	return body, sent, nil
}

/*
 * @Description: 解析请求帧
 * @param line 一行命令, 可以带结尾换行
 * @return *Frame
 * @return error ErrParse 或 ErrChecksumMismatch
 */
func (c *Codec) Decode(line string) (*Frame, error) {
	line = trimLine(line)
	if len(line) == 0 {
		return nil, errors.Wrap(ErrParse, "empty frame")
	}
	command := Command(line[0])
	rest := line[1:]

	var payloadSize int
	switch command {
	case CommandQuery, CommandReset:
		if len(rest) != 0 {
			return nil, errors.Wrapf(ErrParse, "unexpected data after %s command", command)
		}
		return &Frame{Command: command}, nil
	case CommandRead:
		payloadSize = 0
	case CommandWrite:
		payloadSize = c.packetSize
	default:
		return nil, errors.Wrapf(ErrParse, "unknown command %q", line[0])
	}

	want := (addressSize + payloadSize + checksumSize) * 2
	if len(rest) != want {
		return nil, errors.Wrapf(ErrParse, "%s frame has %d hex digits, expected %d", command, len(rest), want)
	}
	body, sent, err := decodeBlock(rest)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s frame", command)
	}
	frame := &Frame{
		Command:  command,
		Address:  uint16(body[0])<<8 | uint16(body[1]),
		Checksum: sent,
	}
	if payloadSize > 0 {
		frame.Payload = append([]byte(nil), body[addressSize:]...)
	}
	return frame, nil
}

func (c *Codec) decodeAs(line string, command Command) (*Frame, error) {
	frame, err := c.Decode(line)
	if err != nil {
		return nil, err
	}
	if frame.Command != command {
		return nil, errors.Wrapf(ErrParse, "expected %s frame, got %s", command, frame.Command)
	}
	return frame, nil
}

func (c *Codec) DecodeWrite(line string) (*Frame, error) {
	return c.decodeAs(line, CommandWrite)
}

func (c *Codec) DecodeRead(line string) (*Frame, error) {
	return c.decodeAs(line, CommandRead)
}

func (c *Codec) DecodeQuery(line string) (*Frame, error) {
	return c.decodeAs(line, CommandQuery)
}

func (c *Codec) DecodeReset(line string) (*Frame, error) {
	return c.decodeAs(line, CommandReset)
}

/*
 * @Description: 解析设备应答
 * @param line "+" 或 "+<数据><校验和>" 或 "-"
 * @return []byte 应答数据, 单纯确认时为 nil
 * @return error NACKError, ErrParse 或 ErrChecksumMismatch
 */
func DecodeResponse(line string) ([]byte, error) {
	line = trimLine(line)
	if len(line) == 0 {
		return nil, errors.Wrap(ErrParse, "empty response")
	}
	switch line[0] {
	case ResponseFail:
		return nil, NACKError
	case ResponseOK:
	default:
		return nil, errors.Wrapf(ErrParse, "unexpected response %q", line)
	}
	if len(line) == 1 {
		return nil, nil
	}
	body, _, err := decodeBlock(line[1:])
	if err != nil {
		return nil, errors.WithMessage(err, "response")
	}
	return body, nil
}

// ParseReadResponse 检查读应答回显的地址和数据长度, 返回数据部分
func (c *Codec) ParseReadResponse(block []byte, address uint16) ([]byte, error) {
	if len(block) != addressSize+c.packetSize {
		return nil, errors.Wrapf(ErrParse, "read response has %d bytes, expected %d", len(block), addressSize+c.packetSize)
	}
	echoed := uint16(block[0])<<8 | uint16(block[1])
	if echoed != address {
		return nil, errors.Wrapf(ErrProtocolMismatch, "read response for 0x%04X, requested 0x%04X", echoed, address)
	}
	return block[addressSize:], nil
}

// ParseInfo 解析查询应答: 协议版本, 包大小, 芯片类型, 芯片型号
func ParseInfo(block []byte) (DeviceInfo, error) {
	if len(block) != infoSize {
		return DeviceInfo{}, errors.Wrapf(ErrParse, "info response has %d bytes, expected %d", len(block), infoSize)
	}
	return DeviceInfo{
		Protocol:   block[0],
		PacketSize: block[1],
		Family:     block[2],
		Model:      block[3],
	}, nil
}

// 以下为设备端的应答编码, 用于模拟器和测试

func encodeBlock(body []byte) string {
	return fmt.Sprintf("%c%s%s%c", ResponseOK, bytesToHex(body), checksumHex(checksum(body)), EOL)
}

func EncodeAck() string {
	return string([]byte{ResponseOK, EOL})
}

func EncodeNack() string {
	return string([]byte{ResponseFail, EOL})
}

func EncodeReadResponse(address uint16, data []byte) string {
	return encodeBlock(append(addressBytes(address), data...))
}

func EncodeInfoResponse(info DeviceInfo) string {
	return encodeBlock([]byte{info.Protocol, info.PacketSize, info.Family, info.Model})
}
