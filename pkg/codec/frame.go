package codec

import "encoding/binary"

// Command values recognized by the codec. The wire protocol defines many
// more; pvmapper only ever emits or interprets these three.
const (
	CmdVersion Command = 0x00
	CmdSearch  Command = 0x06
	CmdEcho    Command = 0x17
)

// Command is the 16-bit opcode in a frame header.
type Command uint16

const (
	headerLen = 16

	versionDataCount = 13
	versionDataType  = 1

	searchDataType  = 5
	searchDataCount = 13

	maxPayloadLen = 0xFFFF
)

// header is the fixed 16-byte frame prefix, network byte order throughout.
type header struct {
	Command    Command
	PayloadLen uint16
	DataType   uint16
	DataCount  uint16
	Param1     uint32
	Param2     uint32
}

func (h header) encode() []byte {
	b := make([]byte, headerLen)
	binary.BigEndian.PutUint16(b[0:2], uint16(h.Command))
	binary.BigEndian.PutUint16(b[2:4], h.PayloadLen)
	binary.BigEndian.PutUint16(b[4:6], h.DataType)
	binary.BigEndian.PutUint16(b[6:8], h.DataCount)
	binary.BigEndian.PutUint32(b[8:12], h.Param1)
	binary.BigEndian.PutUint32(b[12:16], h.Param2)
	return b
}

func decodeHeader(b []byte) header {
	return header{
		Command:    Command(binary.BigEndian.Uint16(b[0:2])),
		PayloadLen: binary.BigEndian.Uint16(b[2:4]),
		DataType:   binary.BigEndian.Uint16(b[4:6]),
		DataCount:  binary.BigEndian.Uint16(b[6:8]),
		Param1:     binary.BigEndian.Uint32(b[8:12]),
		Param2:     binary.BigEndian.Uint32(b[12:16]),
	}
}

// padLen rounds n up to the next multiple of 8.
func padLen(n int) int {
	return (n + 7) &^ 7
}

// PVQuery pairs a correlator with the PV name being searched for.
type PVQuery struct {
	ChanID uint32
	Name   string
}

// ReplyFrame is the raw bytes of one decoded search reply, including any
// leading VERSION header the IOC sent. It is forwarded to clients verbatim
// except for the two in-place rewrites below.
type ReplyFrame []byte
