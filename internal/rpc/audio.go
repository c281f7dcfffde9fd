package rpc

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/philsphicas/stationsync/internal/protocol"
)

// streamAudio answers stream:audio with one binary frame holding chunk
// req.Index of the file.
func (r *Router) streamAudio(ctx context.Context, msg protocol.Message) (protocol.Reply, error) {
	var req protocol.AudioRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return protocol.Reply{}, fmt.Errorf("decode audio request: %w", err)
		}
	}
	if req.Path == "" {
		return protocol.ErrorReply(protocol.CodeMissingPath), nil
	}

	info, err := r.fs.Stat(req.Path)
	if err != nil || info.IsDir() {
		return protocol.ErrorReply(protocol.CodeFileNotFound), nil
	}

	chunk := int64(protocol.ChunkSize(cmp.Or(req.ChunkSize, r.chunk)))
	size := info.Size()
	total := max(1, int((size+chunk-1)/chunk))
	if req.Index < 0 || req.Index >= total {
		return protocol.ErrorReply(protocol.CodeInvalidChunkIndex), nil
	}
	off := int64(req.Index) * chunk
	n := max(0, min(chunk, size-off))

	f, err := r.fs.Open(req.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return protocol.ErrorReply(protocol.CodeFileNotFound), nil
	}
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return protocol.Reply{}, err
	}
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return protocol.Reply{}, fmt.Errorf("read audio file: %w", err)
	}

	return protocol.FrameReply(protocol.FrameHeader{
		RequestID: msg.RequestID,
		Mime:      protocol.MimeType(req.Path),
		Index:     req.Index,
		Total:     total,
		Streaming: total > 1,
	}, buf[:read]), nil
}
