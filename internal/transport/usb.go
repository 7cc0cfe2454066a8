// internal/transport/usb.go
// Direct-USB backend (§4.I), grounded on github.com/google/gousb — the
// same library and bulk-endpoint access pattern the teacher's own USB
// device driver (internal/driver/device/usb_device.go) uses to bypass the
// kernel module.
package transport

import (
	"context"
	"time"

	"github.com/google/gousb"
)

// USBConfig names the vendor/product IDs and bulk endpoint addresses of
// the test station's USB RPC link.
type USBConfig struct {
	VendorID, ProductID gousb.ID
	ConfigNum, IfaceNum, AltNum int
	EndpointOut, EndpointIn     int
	ReadTimeout                 time.Duration
}

// usbConn bundles the open context/device/config/interface chain so Close
// can unwind it in reverse order, mirroring the teacher's USBDevice.Close.
type usbConn struct {
	ctx     *gousb.Context
	device  *gousb.Device
	config  *gousb.Config
	iface   *gousb.Interface
	epOut   *gousb.OutEndpoint
	epIn    *gousb.InEndpoint
	timeout time.Duration
}

func (c *usbConn) Write(p []byte) (int, error) {
	return c.epOut.Write(p)
}

func (c *usbConn) Read(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.epIn.ReadContext(ctx, p)
}

func (c *usbConn) Close() error {
	if c.iface != nil {
		c.iface.Close()
	}
	if c.config != nil {
		c.config.Close()
	}
	if c.device != nil {
		c.device.Close()
	}
	if c.ctx != nil {
		c.ctx.Close()
	}
	return nil
}

// OpenUSB opens the configured device/interface and returns a LineServer
// ready to Serve, plus a close func tearing the whole chain down.
func OpenUSB(cfg USBConfig, handle func(line []byte) []byte) (*LineServer, func() error, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(cfg.VendorID, cfg.ProductID)
	if err != nil || device == nil {
		ctx.Close()
		if err == nil {
			err = errUSBDeviceNotFound
		}
		return nil, nil, err
	}

	config, err := device.Config(cfg.ConfigNum)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, nil, err
	}

	iface, err := config.Interface(cfg.IfaceNum, cfg.AltNum)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, nil, err
	}

	epOut, err := iface.OutEndpoint(cfg.EndpointOut)
	if err != nil {
		iface.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, nil, err
	}

	epIn, err := iface.InEndpoint(cfg.EndpointIn)
	if err != nil {
		iface.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, nil, err
	}

	conn := &usbConn{ctx: ctx, device: device, config: config, iface: iface, epOut: epOut, epIn: epIn, timeout: cfg.ReadTimeout}
	srv := NewLineServer(conn, handle)
	return srv, conn.Close, nil
}

type usbNotFoundError struct{}

func (usbNotFoundError) Error() string { return "usb device not found" }

var errUSBDeviceNotFound = usbNotFoundError{}
