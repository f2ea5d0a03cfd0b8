package microboot

import (
	"bytes"
	"sync"
	"time"
)

// mockDevice 模拟运行 Microboot 固件的芯片
type mockDevice struct {
	mu       sync.Mutex
	codec    *Codec
	info     DeviceInfo
	memory   [0x10000]byte
	in       []byte
	out      []byte
	requests []string

	// 返回 handled=true 时使用 response 作为应答, 空字符串表示不应答
	override func(request string) (response string, handled bool)
	silent   bool
	readErr  error
	writeErr error

	closed  bool
	signals []string
	resets  int
}

func newMockDevice(info DeviceInfo) *mockDevice {
	packetSize := int(info.PacketSize)
	if packetSize == 0 {
		packetSize = DefaultPacketSize
	}
	d := &mockDevice{
		codec: NewCodec(packetSize),
		info:  info,
	}
	for i := range d.memory {
		d.memory[i] = byte(i * 7)
	}
	return d
}

func attinyInfo() DeviceInfo {
	return DeviceInfo{Protocol: 0x10, PacketSize: DefaultPacketSize, Family: 0x01, Model: 0x01}
}

func (d *mockDevice) opener() Opener {
	return func(string, int) (Port, error) {
		return d, nil
	}
}

func (d *mockDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	d.in = append(d.in, p...)
	for {
		index := bytes.IndexByte(d.in, EOL)
		if index < 0 {
			break
		}
		line := string(d.in[:index+1])
		d.in = d.in[index+1:]
		d.requests = append(d.requests, line)
		response := d.process(line)
		if !d.silent {
			d.out = append(d.out, response...)
		}
	}
	return len(p), nil
}

func (d *mockDevice) process(line string) string {
	if d.override != nil {
		if response, handled := d.override(line); handled {
			return response
		}
	}
	packetSize := d.codec.PacketSize()
	switch Command(line[0]) {
	case CommandQuery:
		if _, err := d.codec.DecodeQuery(line); err != nil {
			return EncodeNack()
		}
		return EncodeInfoResponse(d.info)
	case CommandReset:
		d.resets++
		return ""
	case CommandRead:
		frame, err := d.codec.DecodeRead(line)
		if err != nil {
			return EncodeNack()
		}
		data := make([]byte, packetSize)
		for i := range data {
			data[i] = d.memory[frame.Address+uint16(i)]
		}
		return EncodeReadResponse(frame.Address, data)
	case CommandWrite:
		frame, err := d.codec.DecodeWrite(line)
		if err != nil {
			return EncodeNack()
		}
		for i, b := range frame.Payload {
			d.memory[frame.Address+uint16(i)] = b
		}
		return EncodeAck()
	}
	return EncodeNack()
}

func (d *mockDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return 0, d.readErr
	}
	if len(d.out) == 0 {
		d.mu.Unlock()
		time.Sleep(time.Millisecond)
		d.mu.Lock()
		return 0, nil
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

func (d *mockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *mockDevice) SetReadTimeout(time.Duration) error {
	return nil
}

func (d *mockDevice) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = d.out[:0]
	return nil
}

func (d *mockDevice) SetDTR(dtr bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dtr {
		d.signals = append(d.signals, "DTR+")
	} else {
		d.signals = append(d.signals, "DTR-")
	}
	return nil
}

func (d *mockDevice) SetRTS(rts bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rts {
		d.signals = append(d.signals, "RTS+")
	} else {
		d.signals = append(d.signals, "RTS-")
	}
	return nil
}

// inject 把数据放入接收缓冲, 模拟迟到的应答
func (d *mockDevice) inject(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = append(d.out, s...)
}

func (d *mockDevice) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requests...)
}

// alterDigit 把 s[i] 换成另一个十六进制数字
func alterDigit(s string, i int) string {
	b := []byte(s)
	if b[i] == '0' {
		b[i] = '1'
	} else {
		b[i] = '0'
	}
	return string(b)
}
