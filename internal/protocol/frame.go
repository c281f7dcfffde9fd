package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultChunkSize is the audio chunk size used when a request does not
	// name one.
	DefaultChunkSize = 3 << 20

	// MaxChunkSize caps requested chunk sizes.
	MaxChunkSize = 16 << 20

	frameLenSize = 4
)

// ErrShortFrame is returned by DecodeFrame when the frame is truncated.
var ErrShortFrame = errors.New("short binary frame")

// FrameHeader precedes the payload of a binary frame.
type FrameHeader struct {
	RequestID string `json:"requestId"`
	Mime      string `json:"mime"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Streaming bool   `json:"streaming"`
}

// EncodeFrame lays out h and payload as
// [u32 big-endian header length][header JSON][payload].
func EncodeFrame(h FrameHeader, payload []byte) ([]byte, error) {
	hdr, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal frame header: %w", err)
	}
	buf := make([]byte, frameLenSize, frameLenSize+len(hdr)+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(hdr)))
	buf = append(buf, hdr...)
	buf = append(buf, payload...)
	return buf, nil
}

// DecodeFrame splits a binary frame into its header and payload. The
// payload aliases data.
func DecodeFrame(data []byte) (FrameHeader, []byte, error) {
	if len(data) < frameLenSize {
		return FrameHeader{}, nil, ErrShortFrame
	}
	n := binary.BigEndian.Uint32(data)
	if uint64(n) > uint64(len(data)-frameLenSize) {
		return FrameHeader{}, nil, fmt.Errorf("%w: header length %d exceeds %d bytes", ErrShortFrame, n, len(data)-frameLenSize)
	}
	var h FrameHeader
	if err := json.Unmarshal(data[frameLenSize:frameLenSize+n], &h); err != nil {
		return FrameHeader{}, nil, fmt.Errorf("decode frame header: %w", err)
	}
	return h, data[frameLenSize+n:], nil
}

var mimeTypes = map[string]string{
	".wav":  "audio/wav",
	".bwf":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".mp3":  "audio/mpeg",
}

// MimeType maps an audio file path to its MIME type by extension.
// Unknown extensions are reported as audio/mpeg.
func MimeType(path string) string {
	if m, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return "audio/mpeg"
}

// ChunkSize normalizes a requested chunk size.
func ChunkSize(requested int) int {
	switch {
	case requested <= 0:
		return DefaultChunkSize
	case requested > MaxChunkSize:
		return MaxChunkSize
	default:
		return requested
	}
}
