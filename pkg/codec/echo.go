package codec

// EncodeEcho builds an ECHO frame, optionally prefixed with a VERSION
// frame. IocGuard sends the first echo of a connection with
// includeVersion set, matching the CA handshake IOCs expect.
func EncodeEcho(includeVersion bool) []byte {
	var buf []byte
	if includeVersion {
		buf = append(buf, versionHeader().encode()...)
	}
	echo := header{Command: CmdEcho}
	return append(buf, echo.encode()...)
}

func versionHeader() header {
	return header{
		Command:   CmdVersion,
		DataType:  versionDataType,
		DataCount: versionDataCount,
	}
}
