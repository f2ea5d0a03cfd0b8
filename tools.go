package microboot

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// 校验和初始值
const ChecksumSeed uint16 = 0x5050

/*
 * @Description: 累加校验和
 * @param total 当前校验和
 * @param data 数据
 * @param offset 起始偏移
 * @param length 字节数, -1 表示 offset 之后的全部数据
 * @return uint16 新的校验和
 * @return error 数据长度不足时返回 ErrRange
 */
func Accumulate(total uint16, data []byte, offset int, length int) (uint16, error) {
	if offset < 0 || offset > len(data) {
		return total, errors.Wrapf(ErrRange, "offset %d outside data of %d bytes", offset, len(data))
	}
	if length < 0 {
		if length != -1 {
			return total, errors.Wrapf(ErrRange, "invalid length %d", length)
		}
		length = len(data) - offset
	}
	if offset+length > len(data) {
		return total, errors.Wrapf(ErrRange, "data array is not of sufficient size (%d > %d)", offset+length, len(data))
	}
	for index := offset; index < offset+length; index++ {
		total += uint16(data[index])
	}
	return total, nil
}

// checksum 对完整的字节序列计算校验和
func checksum(data ...[]byte) uint16 {
	total := ChecksumSeed
	for _, d := range data {
		total, _ = Accumulate(total, d, 0, -1)
	}
	return total
}

/*
 * @Description: 整数序列转字节, 任意值超出 [0, 255] 返回 ErrValue
 */
func ToBytes(values []int) ([]byte, error) {
	result := make([]byte, len(values))
	for index, val := range values {
		if val < 0 || val > 0xFF {
			return nil, errors.Wrapf(ErrValue, "byte value is out of range (%d)", val)
		}
		result[index] = byte(val)
	}
	return result, nil
}

// AccumulateValues 同 Accumulate, 输入为整数序列
func AccumulateValues(total uint16, values []int, offset int, length int) (uint16, error) {
	data, err := ToBytes(values)
	if err != nil {
		return total, err
	}
	return Accumulate(total, data, offset, length)
}

func bytesToHex(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data) * 2)
	for _, b := range data {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

func hexValue(ch byte) (byte, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return ch - '0', true
	case ch >= 'A' && ch <= 'F':
		return ch - 'A' + 10, true
	}
	return 0, false
}

/*
 * @Description: 十六进制字符串转字节, 只接受大写
 */
func hexCharToBytes(hexStr string) ([]byte, error) {
	if len(hexStr)%2 != 0 {
		return nil, errors.Wrapf(ErrParse, "hex string length must be even (%d)", len(hexStr))
	}

	result := make([]byte, len(hexStr)/2)
	for i := 0; i < len(hexStr); i += 2 {
		hi, ok1 := hexValue(hexStr[i])
		lo, ok2 := hexValue(hexStr[i+1])
		if !ok1 || !ok2 {
			return nil, errors.Wrapf(ErrParse, "invalid hex digits %q at %d", hexStr[i:i+2], i)
		}
		result[i/2] = hi<<4 | lo
	}
	return result, nil
}
