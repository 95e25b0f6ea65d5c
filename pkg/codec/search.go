package codec

// maxDatagramPayload bounds the datagrams EncodeSearchRequest produces so
// they stay clear of typical path MTUs.
const maxDatagramPayload = 1400

// EncodeSearchRequest renders as many of pvs as fit within the MTU budget
// into one VERSION-prefixed datagram, and reports how many it consumed so
// the caller can loop over the remainder.
func EncodeSearchRequest(pvs []PVQuery) (datagram []byte, consumed int) {
	buf := versionHeader().encode()
	budget := maxDatagramPayload - len(buf)

	for _, pv := range pvs {
		name := pv.Name
		if len(name) > maxPayloadLen {
			name = name[:maxPayloadLen]
		}
		payloadLen := padLen(len(name))
		frameLen := headerLen + payloadLen
		if frameLen > budget {
			break
		}

		h := header{
			Command:    CmdSearch,
			PayloadLen: uint16(payloadLen),
			DataType:   searchDataType,
			DataCount:  searchDataCount,
			Param1:     pv.ChanID,
			Param2:     pv.ChanID,
		}
		payload := make([]byte, payloadLen)
		copy(payload, name)

		buf = append(buf, h.encode()...)
		buf = append(buf, payload...)
		budget -= frameLen
		consumed++
	}

	return buf, consumed
}

// DecodeSearchRequest walks buf frame by frame and extracts every
// well-formed SEARCH frame as a (chanID, name) pair. Unrecognized or
// truncated frames are skipped rather than treated as errors.
func DecodeSearchRequest(buf []byte) []PVQuery {
	var out []PVQuery

	for len(buf) >= headerLen {
		h := decodeHeader(buf)
		frameLen := headerLen + int(h.PayloadLen)
		if frameLen > len(buf) {
			break
		}
		if h.Command == CmdSearch && h.PayloadLen > 0 {
			name := trimNulAndControl(buf[headerLen:frameLen])
			if len(name) > 0 {
				out = append(out, PVQuery{ChanID: h.Param1, Name: name})
			}
		}
		buf = buf[frameLen:]
	}

	return out
}

// trimNulAndControl trims trailing NUL padding and rejects names carrying
// control bytes, mirroring the original resolver's pre-search validation.
func trimNulAndControl(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	b = b[:end]
	for _, c := range b {
		if c < 0x20 {
			return ""
		}
	}
	return string(b)
}
