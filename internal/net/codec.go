package net

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame channels.
const (
	ChannelReliable   byte = 0
	ChannelUnreliable byte = 1
	ChannelHello      byte = 2 // first client frame, carries credentials
)

const maxFrame = 0xffff

// ReadFrame reads one frame from r.
// Wire format: [2 bytes LE: total length including header][1 byte channel][payload].
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}

	totalLen := int(binary.LittleEndian.Uint16(header[:2]))
	payloadLen := totalLen - len(header)
	if payloadLen < 0 {
		return 0, nil, fmt.Errorf("invalid frame length: %d", totalLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read frame payload (%d bytes): %w", payloadLen, err)
	}
	return header[2], payload, nil
}

// WriteFrame writes one frame to w as a single Write call.
func WriteFrame(w io.Writer, channel byte, data []byte) error {
	totalLen := len(data) + 3
	if totalLen > maxFrame {
		return fmt.Errorf("frame too large: %d", totalLen)
	}
	buf := make([]byte, 3, totalLen)
	binary.LittleEndian.PutUint16(buf[:2], uint16(totalLen))
	buf[2] = channel
	buf = append(buf, data...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
