package microboot

import "context"

type Interface interface {
	// 连接设备并校验芯片型号
	Connect(ctx context.Context, deviceName string, portName string) (*Device, error)

	// 断开连接
	Disconnect()

	// 是否已连接
	Connected() bool

	// 获取设备信息
	Info() (DeviceInfo, bool)

	// 读取 flash
	Read(ctx context.Context, start uint16, length int) ([]byte, error)

	// 写入 flash
	Write(ctx context.Context, start uint16, length int, data []byte) error

	// 复位并启动应用程序
	Reset() error
}

var _ Interface = (*Session)(nil)
