package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Settings 命令行参数, 也可以从 YAML 配置文件读取
type Settings struct {
	Device    string `yaml:"device"`
	Port      string `yaml:"port"`
	Baud      int    `yaml:"baud"`
	BlockSize int    `yaml:"blocksize"`
	Timeout   string `yaml:"timeout"`
	Log       string `yaml:"log"`
	Catalog   string `yaml:"catalog"`
	AutoReset bool   `yaml:"auto_reset"`
	Verbose   bool   `yaml:"verbose"`
}

var (
	settings   Settings
	configFile string
)

func readSettings(path string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, errors.Wrapf(err, "parse %s", path)
	}
	return s, nil
}

/*
 * @Description: 合并配置文件, 命令行上显式给出的参数优先
 */
func mergeSettings(cmd *cobra.Command, target *Settings, file Settings) {
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if !flags.Changed(name) {
			apply()
		}
	}
	if file.Device != "" {
		set("device", func() { target.Device = file.Device })
	}
	if file.Port != "" {
		set("port", func() { target.Port = file.Port })
	}
	if file.Baud > 0 {
		set("baud", func() { target.Baud = file.Baud })
	}
	if file.BlockSize > 0 {
		set("blocksize", func() { target.BlockSize = file.BlockSize })
	}
	if file.Timeout != "" {
		set("timeout", func() { target.Timeout = file.Timeout })
	}
	if file.Log != "" {
		set("log", func() { target.Log = file.Log })
	}
	if file.Catalog != "" {
		set("catalog", func() { target.Catalog = file.Catalog })
	}
	if file.AutoReset {
		set("auto-reset", func() { target.AutoReset = true })
	}
	if file.Verbose {
		set("verbose", func() { target.Verbose = true })
	}
}

func loadSettings(cmd *cobra.Command) error {
	if configFile != "" {
		file, err := readSettings(configFile)
		if err != nil {
			return err
		}
		mergeSettings(cmd, &settings, file)
	}
	if _, err := settings.timeout(); err != nil {
		return err
	}
	if settings.BlockSize <= 0 || settings.BlockSize > 0xFF {
		return errors.Errorf("block size must be between 1 and 255, got %d", settings.BlockSize)
	}
	return nil
}

func (s Settings) timeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, errors.Wrap(err, "invalid timeout value")
	}
	if timeout <= 0 {
		return 0, errors.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	return timeout, nil
}

// parseAddress 解析十六进制地址, 可带 0x 前缀
func parseAddress(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	value, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, errors.Errorf("invalid address %q", s)
	}
	return uint16(value), nil
}
