package microboot

import (
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Device 支持的芯片及其可寻址的 flash 范围
type Device struct {
	Name        string `yaml:"name"`
	Family      uint8  `yaml:"family"`
	Model       uint8  `yaml:"model"`
	Protocol    uint8  `yaml:"protocol"`
	AddressLow  uint16 `yaml:"address_low"`
	AddressHigh uint16 `yaml:"address_high"`
}

// Size 可寻址的字节数
func (d Device) Size() int {
	return int(d.AddressHigh) - int(d.AddressLow) + 1
}

// Contains 判断 [start, start+length) 是否完全落在设备范围内
func (d Device) Contains(start uint16, length int) bool {
	if length <= 0 {
		return false
	}
	if start < d.AddressLow {
		return false
	}
	return int(start)+length-1 <= int(d.AddressHigh)
}

// 内置芯片列表
var builtinDevices = []Device{
	{Name: "attiny85", Family: 0x01, Model: 0x01, Protocol: 0x10, AddressLow: 0x0000, AddressHigh: 0xFFFF},
	{Name: "atmega8", Family: 0x01, Model: 0x02, Protocol: 0x10, AddressLow: 0x0000, AddressHigh: 0xFFFF},
	{Name: "atmega88", Family: 0x01, Model: 0x03, Protocol: 0x10, AddressLow: 0x0000, AddressHigh: 0xFFFF},
	{Name: "atmega168", Family: 0x01, Model: 0x04, Protocol: 0x10, AddressLow: 0x0000, AddressHigh: 0xFFFF},
}

// Catalog 按名称 (不区分大小写) 索引的芯片表
type Catalog struct {
	devices map[string]Device
}

func NewCatalog(devices ...Device) *Catalog {
	c := &Catalog{devices: make(map[string]Device, len(devices))}
	for _, d := range devices {
		c.devices[strings.ToLower(d.Name)] = d
	}
	return c
}

func DefaultCatalog() *Catalog {
	return NewCatalog(builtinDevices...)
}

/*
 * @Description: 按名称查找芯片
 * @param name 芯片名称
 * @return *Device
 * @return error 未知芯片返回 ErrUnsupportedDevice
 */
func (c *Catalog) Lookup(name string) (*Device, error) {
	d, ok := c.devices[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedDevice, "%q", name)
	}
	return &d, nil
}

// Names 返回排序后的芯片名称
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.devices))
	for _, d := range c.devices {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Merge 返回新的芯片表, other 中的同名芯片覆盖当前表
func (c *Catalog) Merge(other *Catalog) *Catalog {
	merged := NewCatalog()
	for k, d := range c.devices {
		merged.devices[k] = d
	}
	if other != nil {
		for k, d := range other.devices {
			merged.devices[k] = d
		}
	}
	return merged
}

type catalogFile struct {
	Devices []Device `yaml:"devices"`
}

/*
 * @Description: 从 YAML 读取芯片表
 *
 *	devices:
 *	  - name: atmega328
 *	    family: 0x01
 *	    model: 0x05
 *	    protocol: 0x10
 *	    address_low: 0x0000
 *	    address_high: 0x7FFF
 */
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return NewCatalog(), nil
		}
		return nil, errors.Wrap(err, "decode catalog")
	}
	for i, d := range file.Devices {
		if d.Name == "" {
			return nil, errors.Errorf("catalog entry %d: missing name", i)
		}
		if d.AddressLow > d.AddressHigh {
			return nil, errors.Wrapf(ErrRange, "catalog entry %q: address_low 0x%04X > address_high 0x%04X",
				d.Name, d.AddressLow, d.AddressHigh)
		}
	}
	return NewCatalog(file.Devices...), nil
}
