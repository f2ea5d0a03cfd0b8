package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tocurd/go-microboot"
)

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func loadCatalog(path string) (*microboot.Catalog, error) {
	catalog := microboot.DefaultCatalog()
	if path == "" {
		return catalog, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	extra, err := microboot.LoadCatalog(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load catalog %s", path)
	}
	return catalog.Merge(extra), nil
}

// lookupDevice 在连接之前解析设备型号, 以便先检查地址范围
func lookupDevice(s Settings) (*microboot.Catalog, *microboot.Device, error) {
	if s.Device == "" {
		return nil, nil, errors.New("no device specified, use --device")
	}
	catalog, err := loadCatalog(s.Catalog)
	if err != nil {
		return nil, nil, err
	}
	device, err := catalog.Lookup(s.Device)
	if err != nil {
		return nil, nil, err
	}
	return catalog, device, nil
}

// transferRange 计算 --start/--length, 缺省为设备的整个地址空间
func transferRange(device *microboot.Device, start string, length int) (uint16, int, error) {
	address := device.AddressLow
	if start != "" {
		var err error
		if address, err = parseAddress(start); err != nil {
			return 0, 0, err
		}
	}
	if length == 0 {
		length = int(device.AddressHigh) - int(address) + 1
	}
	if !device.Contains(address, length) {
		return 0, 0, errors.Wrapf(microboot.ErrOutOfRange,
			"address out of range for device - %04X:%04X", device.AddressLow, device.AddressHigh)
	}
	return address, length, nil
}

func newProgressBar(description string) microboot.Progress {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription(description),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionOnCompletion(func() { os.Stderr.WriteString("\n") }),
			)
		}
		_ = bar.Set(done)
	}
}

type session struct {
	*microboot.Session
	device  *microboot.Device
	log     zerolog.Logger
	logFile *os.File
}

/*
 * @Description: 按当前参数建立连接
 * @param ctx
 * @param extra 额外的会话选项
 * @return *session 调用方负责 close
 */
func openSession(ctx context.Context, extra ...microboot.Option) (*session, error) {
	catalog, _, err := lookupDevice(settings)
	if err != nil {
		return nil, err
	}
	timeout, err := settings.timeout()
	if err != nil {
		return nil, err
	}

	log := newLogger(os.Stderr, settings.Verbose)
	opts := []microboot.Option{
		microboot.WithCatalog(catalog),
		microboot.WithBaudRate(settings.Baud),
		microboot.WithTimeout(timeout),
		microboot.WithPacketSize(settings.BlockSize),
		microboot.WithAutoReset(settings.AutoReset),
		microboot.WithLogger(log),
	}

	var logFile *os.File
	if settings.Log != "" {
		logFile, err = os.OpenFile(settings.Log, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "open transfer log")
		}
		opts = append(opts, microboot.WithSink(microboot.NewTransferLog(logFile)))
	}

	s := microboot.New(append(opts, extra...)...)
	device, err := s.Connect(ctx, settings.Device, settings.Port)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}
	return &session{Session: s, device: device, log: log, logFile: logFile}, nil
}

func (s *session) close() {
	s.Disconnect()
	if s.logFile != nil {
		s.logFile.Close()
	}
}
