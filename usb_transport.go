package iio

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

const usbInterfaceName = "IIO"

/*USBContext owns a claimed USB interface and the couple pool arbitrated
across it. One couple (index 0) is permanently reserved for the
control/attribute stream; OpenDevicePort reserves one of the rest for a
newly opened IIO device and hands back a dedicated Port for it, so that
device's bulk streaming does not contend with attribute traffic on the
control couple.*/
type USBContext struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	pool        *endpointPool
	dataTimeout atomic.Int64 // nanoseconds, seeds newUSBPort for every couple opened from here on
}

/*OpenUSBContext opens the USB device at bus/address, claims interface
ifaceNum, and requires it to have at least two bulk endpoints, with as
many bulk IN as bulk OUT endpoints; INs and OUTs are paired in order.
The interface's string descriptor is not read, so an interface is accepted
on its endpoint shape alone, whether or not it is named "IIO".*/
func OpenUSBContext(bus, address uint8, ifaceNum int, dataTimeout time.Duration) (*USBContext, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == int(bus) && desc.Address == int(address)
	})
	if err != nil || len(devs) == 0 {
		ctx.Close()
		if err == nil {
			err = errors.Errorf("no USB device at %d.%d", bus, address)
		}
		return nil, newErr(NoDevice, "OpenUSBContext", err)
	}
	for _, extra := range devs[1:] {
		extra.Close()
	}
	dev := devs[0]

	desc, ok := findIIOInterface(dev.Desc, ifaceNum)
	if !ok {
		dev.Close()
		ctx.Close()
		return nil, newErr(NotFound, "OpenUSBContext", errors.Errorf("no %q interface at %d", usbInterfaceName, ifaceNum))
	}

	cfg, err := dev.Config(desc.Config)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, mapUSBErr("OpenUSBContext", err)
	}
	intf, err := cfg.Interface(desc.Number, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, mapUSBErr("OpenUSBContext", err)
	}

	couples, err := buildCouples(intf, desc)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}

	uc := &USBContext{
		ctx:  ctx,
		dev:  dev,
		cfg:  cfg,
		intf: intf,
		pool: newEndpointPool(couples),
	}
	uc.dataTimeout.Store(int64(dataTimeout))
	return uc, nil
}

func findIIOInterface(desc *gousb.DeviceDesc, ifaceNum int) (gousb.InterfaceDesc, bool) {
	for _, cfg := range desc.Configs {
		for _, i := range cfg.Interfaces {
			if i.Number != ifaceNum {
				continue
			}
			for _, alt := range i.AltSettings {
				if countBulkEndpoints(alt) >= 2 {
					return i, true
				}
			}
		}
	}
	return gousb.InterfaceDesc{}, false
}

func countBulkEndpoints(alt gousb.InterfaceSetting) int {
	n := 0
	for _, ep := range alt.Endpoints {
		if ep.TransferType == gousb.TransferTypeBulk {
			n++
		}
	}
	return n
}

//buildCouples pairs adjacent (IN, OUT) bulk endpoints of the claimed
//interface into couples, and assigns couple 0 permanently to pipe 0, the
//non-streaming control/attribute pipe.
func buildCouples(intf *gousb.Interface, desc gousb.InterfaceDesc) ([]epCouple, error) {
	var ins, outs []uint8
	for _, alt := range desc.AltSettings {
		for _, ep := range alt.Endpoints {
			if ep.TransferType != gousb.TransferTypeBulk {
				continue
			}
			if ep.Direction == gousb.EndpointDirectionIn {
				ins = append(ins, uint8(ep.Address))
			} else {
				outs = append(outs, uint8(ep.Address))
			}
		}
	}
	if len(ins) == 0 || len(ins) != len(outs) {
		return nil, newErr(ProtocolViolation, "buildCouples", errors.New("interface does not expose matching IN/OUT bulk endpoint pairs"))
	}

	couples := make([]epCouple, len(ins))
	for i := range ins {
		couples[i] = epCouple{inAddr: ins[i], outAddr: outs[i], pipeID: uint16(i)}
	}
	return couples, nil
}

//ControlPort returns a Port bound to couple 0, the permanently reserved
//control/attribute pipe used before any device-specific bulk pipe is open.
func (u *USBContext) ControlPort() (Port, error) {
	c := u.pool.control()
	in, err := u.intf.InEndpoint(int(c.inAddr))
	if err != nil {
		return nil, mapUSBErr("ControlPort", err)
	}
	out, err := u.intf.OutEndpoint(int(c.outAddr))
	if err != nil {
		return nil, mapUSBErr("ControlPort", err)
	}
	return newUSBPort(in, out, nil, time.Duration(u.dataTimeout.Load())), nil
}

/*OpenDevicePort reserves a free endpoint couple for dev, issues the
OPEN_PIPE vendor control request, and returns a Port dedicated to that
couple along with the handle that releases it.*/
func (u *USBContext) OpenDevicePort(dev uint8) (Port, *Couple, error) {
	couple, err := u.pool.acquire(dev)
	if err != nil {
		return nil, nil, err
	}
	if err := u.controlTransfer(usbCmdOpenPipe, couple.PipeID()); err != nil {
		couple.Close()
		return nil, nil, err
	}

	inAddr, outAddr := couple.endpoints()
	in, err := u.intf.InEndpoint(int(inAddr))
	if err != nil {
		u.controlTransfer(usbCmdClosePipe, couple.PipeID())
		couple.Close()
		return nil, nil, mapUSBErr("OpenDevicePort", err)
	}
	out, err := u.intf.OutEndpoint(int(outAddr))
	if err != nil {
		u.controlTransfer(usbCmdClosePipe, couple.PipeID())
		couple.Close()
		return nil, nil, mapUSBErr("OpenDevicePort", err)
	}

	return newUSBPort(in, out, couple, time.Duration(u.dataTimeout.Load())), couple, nil
}

//CloseDevicePort issues CLOSE_PIPE for couple and releases it back to the
//pool.
func (u *USBContext) CloseDevicePort(couple *Couple) error {
	err := u.controlTransfer(usbCmdClosePipe, couple.PipeID())
	couple.Close()
	return err
}

func (u *USBContext) controlTransfer(request uint8, value uint16) error {
	_, err := u.dev.Control(
		uint8(gousb.ControlVendor|gousb.ControlInterface|gousb.ControlOut),
		request, value, 0, nil,
	)
	if err != nil {
		return mapUSBErr("controlTransfer", err)
	}
	return nil
}

//Close issues RESET_PIPES (closing every pipe) and tears the USB handles
//down in the order a clean context teardown requires.
func (u *USBContext) Close() error {
	err := u.controlTransfer(usbCmdResetPipes, 0)
	u.intf.Close()
	u.cfg.Close()
	u.dev.Close()
	u.ctx.Close()
	return err
}

func mapUSBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout") || errors.Is(err, context.DeadlineExceeded):
		return newErr(Timeout, op, err)
	case strings.Contains(msg, "no such device") || strings.Contains(msg, "NO_DEVICE"):
		return newErr(NoDevice, op, err)
	case strings.Contains(msg, "pipe") || strings.Contains(msg, "stall") || strings.Contains(msg, "STALL"):
		return newErr(BrokenPipe, op, err)
	case strings.Contains(msg, "busy"):
		return newErr(Busy, op, err)
	case strings.Contains(msg, "interrupted"):
		return newErr(Interrupted, op, err)
	default:
		return newErr(Io, op, err)
	}
}

/*USBPort adapts a bulk (IN, OUT) endpoint pair into Port. Large transfers
are segmented at usbMaxBulkTransfer, the kernel-URB allocation cap;
ReadVec/WriteVec only ever move the head buffer of the vector in one
call (NetTransport does this for reads only; its WriteVec writes the whole
vector), so segmentation and retirement of the vector stay entirely in
rwAll.*/
type USBPort struct {
	in  *gousb.InEndpoint
	out *gousb.OutEndpoint

	couple *Couple
	token  *cancelToken

	dataTimeout atomic.Int64 // nanoseconds
}

func newUSBPort(in *gousb.InEndpoint, out *gousb.OutEndpoint, couple *Couple, dataTimeout time.Duration) *USBPort {
	p := &USBPort{in: in, out: out, couple: couple, token: newCancelToken(nil)}
	p.dataTimeout.Store(int64(dataTimeout))
	return p
}

//SetDataTimeout changes the deadline raced against every subsequent
//transfer on this pipe; it does not affect a transfer already in flight.
func (p *USBPort) SetDataTimeout(d time.Duration) error {
	p.dataTimeout.Store(int64(d))
	return nil
}

func (p *USBPort) String() string {
	return fmt.Sprintf("usb bulk pipe in=%#x out=%#x", p.in.Desc.Address, p.out.Desc.Address)
}

//Cancel makes a transfer in progress on this pipe return Cancelled at once
//and fails fast on any future one, until the owning device is closed and
//reopened. The underlying gousb Read/Write of that transfer is not aborted;
//it runs on in its goroutine until it completes.
func (p *USBPort) Cancel() {
	p.token.Cancel()
}

func (p *USBPort) ReadVec(bufs [][]byte) (int, error) {
	if err := p.token.refuseIfCancelled("USBPort.ReadVec"); err != nil {
		return 0, err
	}
	if len(bufs) == 0 || len(bufs[0]) == 0 {
		return 0, nil
	}
	buf := bufs[0]
	if len(buf) > usbMaxBulkTransfer {
		buf = buf[:usbMaxBulkTransfer]
	}
	n, err := p.transfer(func() (int, error) { return p.in.Read(buf) })
	return n, err
}

func (p *USBPort) WriteVec(bufs [][]byte) (int, error) {
	if err := p.token.refuseIfCancelled("USBPort.WriteVec"); err != nil {
		return 0, err
	}
	if len(bufs) == 0 {
		return 0, nil
	}
	buf := bufs[0]
	if len(buf) > usbMaxBulkTransfer {
		buf = buf[:usbMaxBulkTransfer]
	}
	n, err := p.transfer(func() (int, error) { return p.out.Write(buf) })
	return n, err
}

//transfer runs op in a goroutine and races it against the cancel token's
//context and the data timeout: whichever fires first decides what the
//caller gets back. On cancellation or timeout the submitted gousb
//Read/Write is not aborted; it keeps running in its goroutine and its
//result is dropped.
func (p *USBPort) transfer(op func() (int, error)) (int, error) {
	type result struct {
		n   int
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		n, err := op()
		resCh <- result{n, err}
	}()

	var timeoutCh <-chan time.Time
	if d := time.Duration(p.dataTimeout.Load()); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-resCh:
		if res.err != nil {
			return res.n, mapUSBErr("USBPort.transfer", res.err)
		}
		return res.n, nil
	case <-p.token.Context().Done():
		return 0, newErr(Cancelled, "USBPort.transfer", p.token.Context().Err())
	case <-timeoutCh:
		return 0, newErr(Timeout, "USBPort.transfer", errors.New("data timeout exceeded"))
	}
}

//Discard reads and drops up to n bytes from the pipe.
func (p *USBPort) Discard(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	buf := make([]byte, minInt(n, usbMaxBulkTransfer))
	discarded := 0
	for discarded < n {
		want := len(buf)
		if remaining := n - discarded; remaining < want {
			want = remaining
		}
		k, err := p.ReadVec([][]byte{buf[:want]})
		discarded += k
		if err != nil {
			return discarded, err
		}
	}
	return discarded, nil
}

//Close cancels any pending I/O; the couple itself (if any) is released by
//the caller through USBContext.CloseDevicePort, not here, since the
//control-pipe Port has no couple handle to release.
func (p *USBPort) Close() error {
	p.token.Cancel()
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

//chunkSizes splits an n-byte transfer into segments no larger than
//usbMaxBulkTransfer: a 2 MiB transfer segments into >=2 <=1 MiB
//sub-transfers. Exposed for the chunked-I/O path above the port.
func chunkSizes(n int) []int {
	if n <= 0 {
		return nil
	}
	var sizes []int
	for remaining := n; remaining > 0; {
		chunk := remaining
		if chunk > usbMaxBulkTransfer {
			chunk = usbMaxBulkTransfer
		}
		sizes = append(sizes, chunk)
		remaining -= chunk
	}
	return sizes
}

//parseBusAddress parses the decimal bus/address/interface triple of a
//usb: URI body, each in 0..255.
func parseBusAddress(s string) (bus, addr uint8, iface int, err error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return 0, 0, 0, newErr(InvalidArgument, "parseBusAddress", errors.Errorf("malformed usb address %q", s))
	}
	b, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return 0, 0, 0, newErr(InvalidArgument, "parseBusAddress", err)
	}
	a, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return 0, 0, 0, newErr(InvalidArgument, "parseBusAddress", err)
	}
	if len(parts) == 3 {
		i, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return 0, 0, 0, newErr(InvalidArgument, "parseBusAddress", err)
		}
		iface = int(i)
	}
	return uint8(b), uint8(a), iface, nil
}

/*ScanUSB walks every attached USB device, opening each briefly to check
whether it exposes an interface with at least two bulk endpoints (the
interface string descriptor is not compared to "IIO"), and renders a
human-readable
"VID:PID (Manufacturer Product), serial=..." description alongside its
usb: URI.*/
func ScanUSB() ([]ScanResult, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var results []ScanResult
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil {
		return nil, mapUSBErr("ScanUSB", err)
	}
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()

	for _, dev := range devs {
		iface, ok := findAnyIIOInterface(dev.Desc)
		if !ok {
			continue
		}

		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()
		serial, _ := dev.SerialNumber()

		desc := fmt.Sprintf("%04x:%04x (%s %s), serial=%s",
			uint16(dev.Desc.Vendor), uint16(dev.Desc.Product), manufacturer, product, serial)
		uri := fmt.Sprintf("usb:%d.%d.%d", dev.Desc.Bus, dev.Desc.Address, iface)

		results = append(results, ScanResult{Description: desc, URI: uri})
	}
	return results, nil
}

func findAnyIIOInterface(desc *gousb.DeviceDesc) (int, bool) {
	for _, cfg := range desc.Configs {
		for _, i := range cfg.Interfaces {
			for _, alt := range i.AltSettings {
				if countBulkEndpoints(alt) >= 2 {
					return i.Number, true
				}
			}
		}
	}
	return 0, false
}
