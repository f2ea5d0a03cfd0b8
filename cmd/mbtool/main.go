// mbtool reads, writes and dumps the flash of microcontrollers running the
// Microboot serial bootloader.
//
// Usage:
//
//	mbtool dump -d atmega88 -p /dev/ttyUSB0 firmware.bin
//	mbtool flash -d atmega88 --verify firmware.bin
//	mbtool read -d attiny85 --start 0100 --length 64
//	mbtool gencommand -d attiny85 -c read --start 0000 --length 48
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tocurd/go-microboot"
)

const banner = "mbtool - Microboot System Flashing Utility"

var rootCmd = &cobra.Command{
	Use:           "mbtool",
	Short:         banner,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadSettings(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&settings.Device, "device", "d", "", "Device type (see 'mbtool devices')")
	rootCmd.PersistentFlags().StringVarP(&settings.Port, "port", "p", "/dev/ttyUSB0", "Serial port the device is connected to")
	rootCmd.PersistentFlags().IntVar(&settings.Baud, "baud", microboot.DefaultBaudRate, "Serial baud rate")
	rootCmd.PersistentFlags().IntVarP(&settings.BlockSize, "blocksize", "b", microboot.DefaultPacketSize, "Packet size used until the device reports its own")
	rootCmd.PersistentFlags().StringVar(&settings.Timeout, "timeout", microboot.DefaultTimeout.String(), "Timeout for a single exchange (e.g. 500ms, 2s)")
	rootCmd.PersistentFlags().StringVar(&settings.Log, "log", "", "Append every exchanged frame to this file")
	rootCmd.PersistentFlags().StringVar(&settings.Catalog, "catalog", "", "YAML file with additional device definitions")
	rootCmd.PersistentFlags().BoolVar(&settings.AutoReset, "auto-reset", false, "Pulse DTR/RTS to restart the device into the bootloader")
	rootCmd.PersistentFlags().BoolVarP(&settings.Verbose, "verbose", "v", false, "Show every exchange")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(genCommandCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var transferErr *microboot.TransferError
		if errors.As(err, &transferErr) {
			fmt.Fprintf(os.Stderr, "%d bytes completed, resume at 0x%04X\n", transferErr.Done, transferErr.Address)
		}
		stop()
		os.Exit(1)
	}
}
