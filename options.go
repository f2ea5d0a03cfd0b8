package microboot

import (
	"time"

	"github.com/rs/zerolog"
)

// 固件使用的波特率
const DefaultBaudRate = 57600

const DefaultTimeout = 2 * time.Second

// Progress 读写进度回调, done/total 为字节数
type Progress func(done, total int)

type config struct {
	catalog    *Catalog
	opener     Opener
	baudRate   int
	timeout    time.Duration
	packetSize int
	padByte    byte
	verify     bool
	autoReset  bool
	sink       Sink
	progress   Progress
	logger     zerolog.Logger
}

func defaultConfig() config {
	return config{
		catalog:    DefaultCatalog(),
		opener:     OpenSerial,
		baudRate:   DefaultBaudRate,
		timeout:    DefaultTimeout,
		packetSize: DefaultPacketSize,
		sink:       nopSink,
		logger:     zerolog.Nop(),
	}
}

type Option func(*config)

func WithCatalog(catalog *Catalog) Option {
	return func(c *config) {
		if catalog != nil {
			c.catalog = catalog
		}
	}
}

// WithOpener 替换串口的打开方式
func WithOpener(opener Opener) Option {
	return func(c *config) {
		if opener != nil {
			c.opener = opener
		}
	}
}

func WithBaudRate(baudRate int) Option {
	return func(c *config) {
		if baudRate > 0 {
			c.baudRate = baudRate
		}
	}
}

// WithTimeout 每一帧交换的超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithPacketSize 设备未报告包大小时使用的包大小
func WithPacketSize(size int) Option {
	return func(c *config) {
		if size > 0 && size <= 0xFF {
			c.packetSize = size
		}
	}
}

// WithPadByte 写入最后一个不足一包的数据时的填充字节
func WithPadByte(pad byte) Option {
	return func(c *config) {
		c.padByte = pad
	}
}

// WithVerify 每写一包后读回比较
func WithVerify(verify bool) Option {
	return func(c *config) {
		c.verify = verify
	}
}

// WithAutoReset 连接时先通过 DTR/RTS 复位芯片
func WithAutoReset(reset bool) Option {
	return func(c *config) {
		c.autoReset = reset
	}
}

func WithSink(sink Sink) Option {
	return func(c *config) {
		if sink != nil {
			c.sink = sink
		}
	}
}

func WithProgress(progress Progress) Option {
	return func(c *config) {
		c.progress = progress
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
