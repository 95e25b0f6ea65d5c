package codec

import "encoding/binary"

const replyPayloadLen = 8

// ReplyEntry is one decoded search reply: the correlator the IOC echoed
// back and the raw frame bytes to forward toward the client.
type ReplyEntry struct {
	ChanID uint32
	Frame  ReplyFrame
}

// DecodeSearchReply walks buf and extracts every SEARCH reply frame
// (payload_len==8, data_count==0). A leading VERSION frame, if present, is
// retained as a prefix of the returned frame bytes. Anything else is
// skipped.
func DecodeSearchReply(buf []byte) []ReplyEntry {
	var out []ReplyEntry
	var versionPrefix []byte

	for len(buf) >= headerLen {
		h := decodeHeader(buf)
		frameLen := headerLen + int(h.PayloadLen)
		if frameLen > len(buf) {
			break
		}
		frame := buf[:frameLen]

		switch {
		case h.Command == CmdVersion:
			versionPrefix = frame
		case h.Command == CmdSearch && h.PayloadLen == replyPayloadLen && h.DataCount == 0:
			full := make([]byte, 0, len(versionPrefix)+len(frame))
			full = append(full, versionPrefix...)
			full = append(full, frame...)
			out = append(out, ReplyEntry{ChanID: h.Param2, Frame: ReplyFrame(full)})
		}

		buf = buf[frameLen:]
	}

	return out
}

// DecodeIOCPort reads the TCP port the IOC embedded in the first SEARCH
// reply frame's data_type field.
func DecodeIOCPort(reply ReplyFrame) uint16 {
	for _, h := range searchHeaders(reply) {
		return h.DataType
	}
	return 0
}

// RewriteReplyClientCID overwrites param2 of every SEARCH header in reply
// with the original client's correlator. Idempotent: applying it twice
// with the same chanID yields the same bytes as applying it once.
func RewriteReplyClientCID(reply ReplyFrame, chanID uint32) {
	forEachSearchHeader(reply, func(off int) {
		binary.BigEndian.PutUint32(reply[off+12:off+16], chanID)
	})
}

// RewriteReplyIOCAddr writes the IOC's real TCP port into data_type and its
// IPv4 address into param1, replacing any broadcast placeholder the IOC
// emitted. Idempotent for the same (ip, port) pair.
func RewriteReplyIOCAddr(reply ReplyFrame, ip [4]byte, port uint16) {
	forEachSearchHeader(reply, func(off int) {
		binary.BigEndian.PutUint16(reply[off+4:off+6], port)
		copy(reply[off+8:off+12], ip[:])
	})
}

// searchHeaders returns the offsets-decoded SEARCH headers within reply.
func searchHeaders(reply ReplyFrame) []header {
	var out []header
	forEachSearchHeader(reply, func(off int) {
		out = append(out, decodeHeader(reply[off:off+headerLen]))
	})
	return out
}

// forEachSearchHeader calls fn with the byte offset of each SEARCH header
// found in reply, walking frame by frame exactly like the decoders above.
func forEachSearchHeader(reply ReplyFrame, fn func(offset int)) {
	buf := []byte(reply)
	offset := 0
	for len(buf) >= headerLen {
		h := decodeHeader(buf)
		frameLen := headerLen + int(h.PayloadLen)
		if frameLen > len(buf) {
			return
		}
		if h.Command == CmdSearch {
			fn(offset)
		}
		buf = buf[frameLen:]
		offset += frameLen
	}
}
