// Package codec encodes and decodes Channel Access search/echo frames.
//
// Frames share a fixed 16-byte header (command, payload length, data type,
// data count, two u32 params) optionally followed by an 8-byte-aligned
// payload, all network byte order. The codec never errors on malformed
// input: a frame it cannot parse is simply skipped, and the caller gets
// back whatever subset it could decode.
package codec
