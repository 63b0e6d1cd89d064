// Package packet provides the L0 wire format.
package packet

// L0 protocol is communicated between the instrument firmware and the host
// over a serial link (USB CDC or UART).
//
// Every frame starts with a fixed 8-byte header:
//
//	label  code  length(LE)  argument
//	 'L'    1b      2b          4b
//
// If length is non-zero, length payload bytes follow the header and the
// argument carries small integer metadata (e.g. the sampling interval of a
// waveform). The argument of a control frame is a literal 4-character tag.
//
// The codec reads whole headers and never resynchronizes byte by byte; a
// header with a wrong label is dropped as a whole. There is no checksum.
//
// Producer: host and firmware
// Consumer: host and firmware
