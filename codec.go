package iio

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

//Opcode identifies the kind of a command header on the wire.
type Opcode uint8

//The full opcode enumeration of the iiod wire protocol. Unknown opcodes are
//a fatal protocol error; this enumeration is exhaustive.
const (
	OpResponse Opcode = iota
	OpPrint
	OpVersion
	OpTimeout
	OpOpen
	OpOpenCyclic
	OpClose
	OpReadAttr
	OpReadDbgAttr
	OpReadBufAttr
	OpReadChnAttr
	OpWriteAttr
	OpWriteDbgAttr
	OpWriteBufAttr
	OpWriteChnAttr
	OpReadBuf
	OpWriteBuf
	OpGetTrig
	OpSetTrig
	OpSetBufCnt

	nbOpcodes
)

func (o Opcode) valid() bool { return o < nbOpcodes }

func (o Opcode) String() string {
	names := [...]string{
		"RESPONSE", "PRINT", "VERSION", "TIMEOUT", "OPEN", "OPEN_CYCLIC",
		"CLOSE", "READ_ATTR", "READ_DBG_ATTR", "READ_BUF_ATTR",
		"READ_CHN_ATTR", "WRITE_ATTR", "WRITE_DBG_ATTR", "WRITE_BUF_ATTR",
		"WRITE_CHN_ATTR", "READBUF", "WRITEBUF", "GETTRIG", "SETTRIG",
		"SETBUFCNT",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "UNKNOWN"
}

//headerSize is the fixed wire size of a Command header: a u16 client_id,
//a u8 op, a u8 dev, and an i32 code, in host byte order. This
//implementation assumes little-endian, the common case; the protocol does
//not endian-swap, so client and server must agree out of band (see
//DESIGN.md for why this is not made configurable).
const headerSize = 8

//Command is the fixed 8-byte header carried by every frame on the wire.
type Command struct {
	ClientID uint16
	Op       Opcode
	Dev      uint8
	Code     int32
}

func (c Command) encode() []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(b[0:2], c.ClientID)
	b[2] = byte(c.Op)
	b[3] = c.Dev
	binary.LittleEndian.PutUint32(b[4:8], uint32(c.Code))
	return b
}

func decodeCommand(b []byte) (Command, error) {
	if len(b) != headerSize {
		return Command{}, newErr(ProtocolViolation, "decodeCommand", errors.Errorf("short header: %d bytes", len(b)))
	}
	op := Opcode(b[2])
	if !op.valid() {
		return Command{}, newErr(ProtocolViolation, "decodeCommand", errors.Errorf("unknown opcode %d", b[2]))
	}
	return Command{
		ClientID: binary.LittleEndian.Uint16(b[0:2]),
		Op:       op,
		Dev:      b[3],
		Code:     int32(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}

//maxVectorBufs is the cap on the number of buffer descriptors a single
//vector-I/O call may carry.
const maxVectorBufs = 32

/*rwAll drives port until exactly the requested number of bytes has been
transferred across the buffer vector, advancing the current buffer's slice
on short I/O and retiring buffers as they are filled - the Go rendition of
original_source/iiod-responder.c's iiod_rw_all. On read paths it caps the
final buffer to bytes so an oversized trailing buffer is not consumed past
the declared payload length.

hdr, if non-nil, is prepended to bufs as the first vector entry (used to
send or receive the command header itself). bytes is only consulted on
read paths; on write paths the full sum of the vector is transferred.*/
func rwAll(port Port, hdr []byte, bufs [][]byte, bytes int, isRead bool) (int, error) {
	vec := make([][]byte, 0, 1+len(bufs))
	if hdr != nil {
		vec = append(vec, hdr)
	}
	vec = append(vec, bufs...)

	if len(vec) == 0 || len(vec) > maxVectorBufs {
		return 0, newErr(InvalidArgument, "rwAll", errors.New("buffer vector must contain between 1 and 32 buffers"))
	}

	var count int
	for len(vec) > 0 {
		if isRead {
			remaining := bytes - count
			if remaining <= len(vec[0]) {
				vec[0] = vec[0][:remaining]
				vec = vec[:1]
			}
		}

		var n int
		var err error
		if isRead {
			n, err = port.ReadVec(vec)
		} else {
			n, err = port.WriteVec(vec)
		}
		if n <= 0 {
			if err == nil {
				err = newErr(EndOfStream, "rwAll", errors.New("zero-length transfer"))
			}
			return count, err
		}

		consumed := n
		for consumed > 0 && len(vec) > 0 && consumed >= len(vec[0]) {
			consumed -= len(vec[0])
			count += len(vec[0])
			vec = vec[1:]
		}
		if consumed == 0 {
			if len(vec) == 0 {
				break
			}
			continue
		}
		count += consumed
		vec[0] = vec[0][consumed:]
	}

	return count, nil
}
