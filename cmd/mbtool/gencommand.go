package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tocurd/go-microboot"
)

var (
	genCommand string
	genStart   string
	genLength  int
)

var genCommandCmd = &cobra.Command{
	Use:   "gencommand [file]",
	Short: "Print the frames a read or write would send, without a device attached",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, device, err := lookupDevice(settings)
		if err != nil {
			return err
		}
		codec := microboot.NewCodec(settings.BlockSize)

		switch strings.ToLower(genCommand) {
		case "read":
			start, length, err := transferRange(device, genStart, genLength)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), device, "read", start, length)
			return genRead(cmd.OutOrStdout(), codec, start, length)
		case "write":
			if len(args) == 0 {
				return errors.New("write requires an input file")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			length := genLength
			if length == 0 {
				length = len(data)
			}
			if length > len(data) {
				return errors.Errorf("%s holds %d bytes, %d requested", args[0], len(data), length)
			}
			start, length, err := transferRange(device, genStart, length)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), device, "write", start, length)
			return genWrite(cmd.OutOrStdout(), codec, device, start, data[:length])
		default:
			return errors.Errorf("unknown command %q, expected read or write", genCommand)
		}
	},
}

func init() {
	genCommandCmd.Flags().StringVarP(&genCommand, "command", "c", "read", "Command to generate (read or write)")
	genCommandCmd.Flags().StringVarP(&genStart, "start", "s", "", "Start address in hex")
	genCommandCmd.Flags().IntVarP(&genLength, "length", "l", 0, "Number of bytes")
}

func printSummary(w io.Writer, device *microboot.Device, command string, start uint16, length int) {
	fmt.Fprintf(w, "Device    : %s\n", device.Name)
	fmt.Fprintf(w, "Command   : %s\n", command)
	fmt.Fprintf(w, "Start     : 0x%04X\n", start)
	fmt.Fprintf(w, "Length    : %d\n", length)
}

// genRead 每个包一条读命令, 地址按包大小递增
func genRead(w io.Writer, codec *microboot.Codec, start uint16, length int) error {
	size := codec.PacketSize()
	for offset := 0; offset < length; offset += size {
		if _, err := io.WriteString(w, codec.EncodeRead(start+uint16(offset))); err != nil {
			return err
		}
	}
	return nil
}

// genWrite 最后一包不足时补零, 补齐后不能越过设备的最高地址
func genWrite(w io.Writer, codec *microboot.Codec, device *microboot.Device, start uint16, data []byte) error {
	size := codec.PacketSize()
	packets := (len(data) + size - 1) / size
	if int(start)+packets*size-1 > int(device.AddressHigh) {
		return errors.Wrapf(microboot.ErrOutOfRange,
			"padded write ends past %04X, align the write to %d byte packets", device.AddressHigh, size)
	}
	padded := make([]byte, packets*size)
	copy(padded, data)

	for offset := 0; offset < len(padded); offset += size {
		frame, err := codec.EncodeWrite(start+uint16(offset), padded, offset)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, frame); err != nil {
			return err
		}
	}
	return nil
}
