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
	startAddress string
	transferLen  int
	verifyFlash  bool
	resetAfter   bool
)

var readCmd = &cobra.Command{
	Use:   "read [file]",
	Short: "Read a memory range, to a file or as a hex dump",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, device, err := lookupDevice(settings)
		if err != nil {
			return err
		}
		start, length, err := transferRange(device, startAddress, transferLen)
		if err != nil {
			return err
		}
		data, err := readRange(cmd, start, length)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return printHex(cmd.OutOrStdout(), start, data)
		}
		return os.WriteFile(args[0], data, 0o644)
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump [file]",
	Short: "Read the whole memory of the device into a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, device, err := lookupDevice(settings)
		if err != nil {
			return err
		}
		output := device.Name + ".bin"
		if len(args) > 0 {
			output = args[0]
		}
		data, err := readRange(cmd, device.AddressLow, device.Size())
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), output)
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write file",
	Short: "Write the contents of a file to a memory range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, device, err := lookupDevice(settings)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		length := transferLen
		if length == 0 {
			length = len(data)
		}
		if length > len(data) {
			return errors.Errorf("%s holds %d bytes, %d requested", args[0], len(data), length)
		}
		start, length, err := transferRange(device, startAddress, length)
		if err != nil {
			return err
		}
		return writeRange(cmd, start, length, data, verifyFlash)
	},
}

var flashCmd = &cobra.Command{
	Use:   "flash file",
	Short: "Program a raw binary image starting at the lowest device address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, device, err := lookupDevice(settings)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return errors.Errorf("%s is empty", args[0])
		}
		start, length, err := transferRange(device, "", len(data))
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context(),
			microboot.WithVerify(verifyFlash),
			microboot.WithProgress(newProgressBar("flash")))
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.Write(cmd.Context(), start, length, data); err != nil {
			return err
		}
		s.log.Info().Int("bytes", length).Bool("verified", verifyFlash).Msg("flash complete")
		if resetAfter {
			return s.Reset()
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Leave the bootloader and start the application",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()
		return s.Reset()
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Query the bootloader and print the device information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		info, _ := s.Info()
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Device      : %s\n", s.device.Name)
		fmt.Fprintf(w, "Protocol    : 0x%02X\n", info.Protocol)
		fmt.Fprintf(w, "Packet size : %d\n", info.PacketSize)
		fmt.Fprintf(w, "CPU family  : 0x%02X\n", info.Family)
		fmt.Fprintf(w, "CPU model   : 0x%02X\n", info.Model)
		fmt.Fprintf(w, "Memory      : %04X-%04X (%d bytes)\n", s.device.AddressLow, s.device.AddressHigh, s.device.Size())
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the supported devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(settings.Catalog)
		if err != nil {
			return err
		}
		return printDevices(cmd.OutOrStdout(), catalog)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{readCmd, writeCmd} {
		cmd.Flags().StringVarP(&startAddress, "start", "s", "", "Start address in hex (default: lowest device address)")
		cmd.Flags().IntVarP(&transferLen, "length", "l", 0, "Number of bytes (default: up to the end of memory, or the file size)")
	}
	writeCmd.Flags().BoolVar(&verifyFlash, "verify", false, "Read back every packet after writing it")
	flashCmd.Flags().BoolVar(&verifyFlash, "verify", false, "Read back every packet after writing it")
	flashCmd.Flags().BoolVar(&resetAfter, "reset", true, "Start the application when done")
}

func readRange(cmd *cobra.Command, start uint16, length int) ([]byte, error) {
	s, err := openSession(cmd.Context(), microboot.WithProgress(newProgressBar("read")))
	if err != nil {
		return nil, err
	}
	defer s.close()

	data, err := s.Read(cmd.Context(), start, length)
	if err != nil {
		return nil, err
	}
	// 设备按整包返回
	return data[:length], nil
}

func writeRange(cmd *cobra.Command, start uint16, length int, data []byte, verify bool) error {
	s, err := openSession(cmd.Context(),
		microboot.WithVerify(verify),
		microboot.WithProgress(newProgressBar("write")))
	if err != nil {
		return err
	}
	defer s.close()
	return s.Write(cmd.Context(), start, length, data)
}

func printDevices(w io.Writer, catalog *microboot.Catalog) error {
	fmt.Fprintf(w, "%-12s %-6s %-6s %-8s %s\n", "NAME", "FAMILY", "MODEL", "PROTOCOL", "MEMORY")
	for _, name := range catalog.Names() {
		d, err := catalog.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-12s 0x%02X   0x%02X   0x%02X     %04X-%04X\n",
			d.Name, d.Family, d.Model, d.Protocol, d.AddressLow, d.AddressHigh)
	}
	return nil
}

// printHex 每行 16 个字节, 行首为地址
func printHex(w io.Writer, start uint16, data []byte) error {
	for offset := 0; offset < len(data); offset += 16 {
		line := data[offset:min(offset+16, len(data))]
		cells := make([]string, len(line))
		for i, b := range line {
			cells[i] = fmt.Sprintf("%02X", b)
		}
		if _, err := fmt.Fprintf(w, "%04X: %s\n", int(start)+offset, strings.Join(cells, " ")); err != nil {
			return err
		}
	}
	return nil
}
