// internal/stationconfig/config.go
// Package stationconfig loads the test station's bring-up configuration
// from an optional .env file and environment variables, mirroring the teacher's own
// internal/config package (flag.* plus a hand-rolled KEY=VALUE .env
// reader — no third-party config/env library appears anywhere in the
// corpus; see DESIGN.md).
package stationconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the station's bring-up configuration.
type Config struct {
	UARTDevice      string
	UARTReadTimeout time.Duration
	HTTPAddr        string
	USBVendorID     uint16
	USBProductID    uint16
	ForceDefaults   bool
}

// Default returns the compiled-in defaults, overridden by .env and then
// by environment variables, in that precedence order (lowest to
// highest), matching the teacher's LoadDeviceConfig layering.
func Default() Config {
	cfg := Config{
		UARTDevice:      "/dev/ttyACM0",
		UARTReadTimeout: 200 * time.Millisecond,
		HTTPAddr:        ":8080",
		USBVendorID:     0x0483,
		USBProductID:    0x5740,
		ForceDefaults:   false,
	}

	if data, err := os.ReadFile(envPath()); err == nil {
		applyEnvFile(&cfg, string(data))
	}
	applyEnviron(&cfg)
	return cfg
}

func envPath() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return filepath.Join(cwd, ".env")
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return filepath.Join(cwd, ".env")
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return filepath.Join(cwd, ".env")
		}
		cwd = parent
	}
}

func applyEnvFile(cfg *Config, content string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		setField(cfg, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
}

func applyEnviron(cfg *Config) {
	for _, key := range []string{
		"STATION_UART_DEVICE", "STATION_UART_READ_TIMEOUT_MS", "STATION_HTTP_ADDR",
		"STATION_USB_VENDOR_ID", "STATION_USB_PRODUCT_ID", "STATION_FORCE_DEFAULTS",
	} {
		if v := os.Getenv(key); v != "" {
			setField(cfg, key, v)
		}
	}
}

func setField(cfg *Config, key, value string) {
	switch key {
	case "STATION_UART_DEVICE":
		cfg.UARTDevice = value
	case "STATION_UART_READ_TIMEOUT_MS":
		if ms, err := strconv.Atoi(value); err == nil {
			cfg.UARTReadTimeout = time.Duration(ms) * time.Millisecond
		}
	case "STATION_HTTP_ADDR":
		cfg.HTTPAddr = value
	case "STATION_USB_VENDOR_ID":
		if n, err := strconv.ParseUint(value, 0, 16); err == nil {
			cfg.USBVendorID = uint16(n)
		}
	case "STATION_USB_PRODUCT_ID":
		if n, err := strconv.ParseUint(value, 0, 16); err == nil {
			cfg.USBProductID = uint16(n)
		}
	case "STATION_FORCE_DEFAULTS":
		cfg.ForceDefaults = value == "1" || strings.EqualFold(value, "true")
	}
}
