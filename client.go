package iio

import (
	"time"

	"github.com/pkg/errors"
)

/*Client is the opaque device-control convenience layer built on top of a
Responder: one method per opcode family, each obtaining a fresh
RequestSlot and driving it through the async primitives. Client never
interprets attribute names or values beyond passing them through as
command payload - the device/channel attribute catalogue stays out of
scope.*/
type Client struct {
	r           *Responder
	localTO     time.Duration
	remoteTOSet bool
}

//NewClient wraps r; r.Start must already have been called.
func NewClient(r *Responder) *Client {
	return &Client{r: r}
}

func negativeToErr(op string, code int32) error {
	if code >= 0 {
		return nil
	}
	return newErr(kindFromCode(code), op, errors.Errorf("remote returned code %d", code))
}

//kindFromCode maps a negative RESPONSE code to an ErrorKind. The wire only
//carries a signed integer, not a structured kind, so this is a coarse
//best-effort classification good enough for callers that just want to
//know "is this worth retrying".
func kindFromCode(code int32) ErrorKind {
	switch -code {
	case 32: // EPIPE
		return BrokenPipe
	case 110: // ETIMEDOUT
		return Timeout
	case 9: // EBADF -> our Cancelled convention
		return Cancelled
	case 16: // EBUSY
		return Busy
	default:
		return Io
	}
}

func (c *Client) simpleCommand(op Opcode, dev uint8, code int32, payload []byte) (int32, error) {
	slot := c.r.NewReader()
	cmd := Command{Op: op, Dev: dev, Code: code}
	var sendBuf []byte
	if payload != nil {
		sendBuf = payload
	}
	respCode, err := slot.ExecCommand(cmd, sendBuf, nil)
	if err != nil {
		return 0, err
	}
	return respCode, negativeToErr(op.String(), respCode)
}

func (c *Client) readCommand(op Opcode, dev uint8, name string, out []byte) (int, error) {
	slot := c.r.NewReader()
	cmd := Command{Op: op, Dev: dev, Code: int32(len(name))}
	code, err := slot.ExecCommand(cmd, []byte(name), out)
	if err != nil {
		return 0, err
	}
	if err := negativeToErr(op.String(), code); err != nil {
		return 0, err
	}
	n := int(code)
	if n > len(out) {
		n = len(out)
	}
	return n, nil
}

func (c *Client) writeCommand(op Opcode, dev uint8, name string, value []byte) error {
	slot := c.r.NewReader()
	payload := append(append([]byte{}, name...), value...)
	cmd := Command{Op: op, Dev: dev, Code: int32(len(payload))}
	code, err := slot.ExecCommand(cmd, payload, nil)
	if err != nil {
		return err
	}
	return negativeToErr(op.String(), code)
}

//Open issues OPEN for dev with the given sample count.
func (c *Client) Open(dev uint8, samplesCount uint32) error {
	_, err := c.simpleCommand(OpOpen, dev, int32(samplesCount), nil)
	return err
}

//OpenCyclic issues OPEN_CYCLIC for dev.
func (c *Client) OpenCyclic(dev uint8, samplesCount uint32) error {
	_, err := c.simpleCommand(OpOpenCyclic, dev, int32(samplesCount), nil)
	return err
}

//Close issues CLOSE for dev.
func (c *Client) Close(dev uint8) error {
	_, err := c.simpleCommand(OpClose, dev, 0, nil)
	return err
}

//ReadAttr reads a device-wide attribute.
func (c *Client) ReadAttr(dev uint8, name string) ([]byte, error) {
	return c.readAttrOp(OpReadAttr, dev, name)
}

//ReadDbgAttr reads a debug attribute.
func (c *Client) ReadDbgAttr(dev uint8, name string) ([]byte, error) {
	return c.readAttrOp(OpReadDbgAttr, dev, name)
}

//ReadBufAttr reads a buffer attribute.
func (c *Client) ReadBufAttr(dev uint8, name string) ([]byte, error) {
	return c.readAttrOp(OpReadBufAttr, dev, name)
}

//ReadChnAttr reads a channel attribute; chn is packed into the payload
//ahead of the attribute name, following the wire convention of the other
//per-channel opcodes.
func (c *Client) ReadChnAttr(dev uint8, chn, name string) ([]byte, error) {
	return c.readAttrOp(OpReadChnAttr, dev, chn+"\x00"+name)
}

func (c *Client) readAttrOp(op Opcode, dev uint8, name string) ([]byte, error) {
	out := make([]byte, 4096)
	n, err := c.readCommand(op, dev, name, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

//WriteAttr writes a device-wide attribute.
func (c *Client) WriteAttr(dev uint8, name string, value []byte) error {
	return c.writeCommand(OpWriteAttr, dev, name+"\x00", value)
}

//WriteDbgAttr writes a debug attribute.
func (c *Client) WriteDbgAttr(dev uint8, name string, value []byte) error {
	return c.writeCommand(OpWriteDbgAttr, dev, name+"\x00", value)
}

//WriteBufAttr writes a buffer attribute.
func (c *Client) WriteBufAttr(dev uint8, name string, value []byte) error {
	return c.writeCommand(OpWriteBufAttr, dev, name+"\x00", value)
}

//WriteChnAttr writes a channel attribute.
func (c *Client) WriteChnAttr(dev uint8, chn, name string, value []byte) error {
	return c.writeCommand(OpWriteChnAttr, dev, chn+"\x00"+name+"\x00", value)
}

//ReadBuf reads up to len(buf) bytes of sample data from dev's buffer.
func (c *Client) ReadBuf(dev uint8, buf []byte) (int, error) {
	slot := c.r.NewReader()
	cmd := Command{Op: OpReadBuf, Dev: dev, Code: int32(len(buf))}
	code, err := slot.ExecCommand(cmd, nil, buf)
	if err != nil {
		return 0, err
	}
	if err := negativeToErr("READBUF", code); err != nil {
		return 0, err
	}
	n := int(code)
	if n > len(buf) {
		n = len(buf)
	}
	return n, nil
}

//WriteBuf writes buf's sample data to dev's buffer.
func (c *Client) WriteBuf(dev uint8, buf []byte) (int, error) {
	slot := c.r.NewReader()
	cmd := Command{Op: OpWriteBuf, Dev: dev, Code: int32(len(buf))}
	code, err := slot.ExecCommand(cmd, buf, nil)
	if err != nil {
		return 0, err
	}
	if err := negativeToErr("WRITEBUF", code); err != nil {
		return 0, err
	}
	return int(code), nil
}

//GetTrigger returns the name of dev's currently configured trigger.
func (c *Client) GetTrigger(dev uint8) (string, error) {
	out := make([]byte, 256)
	slot := c.r.NewReader()
	cmd := Command{Op: OpGetTrig, Dev: dev, Code: int32(len(out))}
	code, err := slot.ExecCommand(cmd, nil, out)
	if err != nil {
		return "", err
	}
	if err := negativeToErr("GETTRIG", code); err != nil {
		return "", err
	}
	n := int(code)
	if n > len(out) {
		n = len(out)
	}
	return string(out[:n]), nil
}

//SetTrigger sets dev's trigger by name.
func (c *Client) SetTrigger(dev uint8, name string) error {
	_, err := c.simpleCommand(OpSetTrig, dev, int32(len(name)), []byte(name))
	return err
}

//SetBufferCount sets the number of kernel buffers allocated for dev.
func (c *Client) SetBufferCount(dev uint8, count uint32) error {
	_, err := c.simpleCommand(OpSetBufCnt, dev, int32(count), nil)
	return err
}

/*SetTimeout negotiates T/2 with the remote via a TIMEOUT command and, only
if the remote accepted it, commits T both to local bookkeeping and to the
live transport's read/write deadline - so a later ReadBuf/WriteBuf call
actually waits the new T, not the one the Port was constructed with.*/
func (c *Client) SetTimeout(d time.Duration) error {
	remote := d / 2
	code, err := c.simpleCommand(OpTimeout, 0, int32(remote.Milliseconds()), nil)
	if err != nil {
		return err
	}
	_ = code
	if err := c.r.SetDataTimeout(d); err != nil {
		return err
	}
	c.localTO = d
	c.remoteTOSet = true
	return nil
}

//Version requests the remote iiod's protocol version string.
func (c *Client) Version() (string, error) {
	out := make([]byte, 64)
	slot := c.r.NewReader()
	cmd := Command{Op: OpVersion}
	code, err := slot.ExecCommand(cmd, nil, out)
	if err != nil {
		return "", err
	}
	if err := negativeToErr("VERSION", code); err != nil {
		return "", err
	}
	n := int(code)
	if n > len(out) {
		n = len(out)
	}
	return string(out[:n]), nil
}

//Print requests a human-readable context XML description from the remote.
func (c *Client) Print(dev uint8) (string, error) {
	out := make([]byte, 65536)
	slot := c.r.NewReader()
	cmd := Command{Op: OpPrint, Dev: dev}
	code, err := slot.ExecCommand(cmd, nil, out)
	if err != nil {
		return "", err
	}
	if err := negativeToErr("PRINT", code); err != nil {
		return "", err
	}
	n := int(code)
	if n > len(out) {
		n = len(out)
	}
	return string(out[:n]), nil
}
