package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pvmapper/pvmapper/pkg/codec"
)

func TestSearchRequestRoundTrip(t *testing.T) {
	pvs := []codec.PVQuery{
		{ChanID: 1, Name: "FOO:BAR"},
		{ChanID: 2, Name: "BAZ:QUX.VAL"},
		{ChanID: 3, Name: "EIGHTBYTE"},
	}

	buf, consumed := codec.EncodeSearchRequest(pvs)
	require.Equal(t, len(pvs), consumed)
	require.Zero(t, len(buf)%8)

	got := codec.DecodeSearchRequest(buf)
	require.Len(t, got, len(pvs))
	for i, pv := range pvs {
		require.Equal(t, pv.ChanID, got[i].ChanID)
		require.Equal(t, pv.Name, got[i].Name)
	}
}

func TestSearchRequestMTUBudget(t *testing.T) {
	var pvs []codec.PVQuery
	for i := 0; i < 1000; i++ {
		pvs = append(pvs, codec.PVQuery{ChanID: uint32(i), Name: "SOME:VERY:LONG:PVNAME:PADDING:TO:FORCE:SPLIT:0001234567890"})
	}

	buf, consumed := codec.EncodeSearchRequest(pvs)
	require.LessOrEqual(t, len(buf), 1400)
	require.GreaterOrEqual(t, consumed, 1)
	require.Less(t, consumed, len(pvs))
}

func TestSearchRequestAlignment(t *testing.T) {
	buf, _ := codec.EncodeSearchRequest([]codec.PVQuery{{ChanID: 1, Name: "X"}})
	require.Zero(t, len(buf)%8)
}

func TestDecodeSearchRequestSkipsJunk(t *testing.T) {
	buf := codec.EncodeEcho(true) // VERSION + ECHO, no SEARCH frames
	buf = append(buf, 1, 2, 3, 4, 5, 6, 7) // 7 bytes of garbage, short of a header

	got := codec.DecodeSearchRequest(buf)
	require.Empty(t, got)
}

func TestReplyRewriteIdempotence(t *testing.T) {
	reply := buildReply(t, 42, 5064, [4]byte{255, 255, 255, 255})

	ip := [4]byte{127, 0, 0, 1}
	codec.RewriteReplyIOCAddr(reply, ip, 5064)
	once := append(codec.ReplyFrame{}, reply...)
	codec.RewriteReplyIOCAddr(reply, ip, 5064)
	require.Equal(t, []byte(once), []byte(reply))

	codec.RewriteReplyClientCID(reply, 99)
	onceCID := append(codec.ReplyFrame{}, reply...)
	codec.RewriteReplyClientCID(reply, 99)
	require.Equal(t, []byte(onceCID), []byte(reply))
}

func TestDecodeIOCPort(t *testing.T) {
	reply := buildReply(t, 42, 5064, [4]byte{255, 255, 255, 255})
	require.Equal(t, uint16(5064), codec.DecodeIOCPort(reply))
}

func TestReplyMatching(t *testing.T) {
	reply := buildReply(t, 42, 5064, [4]byte{10, 0, 0, 1})
	entries := codec.DecodeSearchReply(reply)
	require.Len(t, entries, 1)
	require.Equal(t, uint32(42), entries[0].ChanID)
}

// buildReply hand-assembles a VERSION+SEARCH reply frame the way a real IOC
// would emit one, for use as fixture data in the tests above.
func buildReply(t *testing.T, chanID uint32, iocPort uint16, iocIP [4]byte) codec.ReplyFrame {
	t.Helper()
	buf, _ := codec.EncodeSearchRequest(nil) // VERSION header only
	// Hand-roll a SEARCH reply header: payload_len=8, data_count=0.
	reply := make([]byte, 16+8)
	putU16 := func(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }
	putU32 := func(b []byte, v uint32) { b[0] = byte(v >> 24); b[1] = byte(v >> 16); b[2] = byte(v >> 8); b[3] = byte(v) }
	putU16(reply[0:2], 0x06) // SEARCH
	putU16(reply[2:4], 8)    // payload_len
	putU16(reply[4:6], iocPort)
	putU16(reply[6:8], 0) // data_count
	copy(reply[8:12], iocIP[:])
	putU32(reply[12:16], chanID)
	return codec.ReplyFrame(append(buf, reply...))
}
