package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/philsphicas/stationsync/internal/protocol"
	"github.com/philsphicas/stationsync/internal/stations"
)

// exportSchedule writes the files of an export-schedule request under the
// station's export path. Unknown stations and stations without an export
// path are acknowledged without writing anything.
func (r *Router) exportSchedule(ctx context.Context, msg protocol.Message) (protocol.Reply, error) {
	var ev protocol.ExportEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return protocol.Reply{}, fmt.Errorf("decode export event: %w", err)
	}

	var st stations.Station
	if r.stations != nil {
		var err error
		st, err = r.stations.Lookup(ctx, ev.StationID)
		if err != nil && !errors.Is(err, stations.ErrNotFound) {
			return protocol.Reply{}, fmt.Errorf("lookup station: %w", err)
		}
	}
	if st.ExportPath == "" {
		r.logger.Info("export skipped, station has no export path", "stationId", ev.StationID, "files", len(ev.Files))
		return protocol.SuccessReply(), nil
	}

	dir := st.ExportPath
	if ev.Directory != "" {
		if !filepath.IsLocal(ev.Directory) {
			return protocol.ErrorReply(protocol.CodeInvalidPath), nil
		}
		dir = filepath.Join(dir, ev.Directory)
	}
	for _, f := range ev.Files {
		if !filepath.IsLocal(f.Filename) || filepath.Clean(f.Filename) == "." {
			return protocol.ErrorReply(protocol.CodeInvalidPath), nil
		}
	}

	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return protocol.Reply{}, fmt.Errorf("create export directory: %w", err)
	}
	for _, f := range ev.Files {
		if err := ctx.Err(); err != nil {
			return protocol.Reply{}, err
		}
		target := filepath.Join(dir, f.Filename)
		if parent := filepath.Dir(target); parent != dir {
			if err := r.fs.MkdirAll(parent, 0o755); err != nil {
				return protocol.Reply{}, fmt.Errorf("create export directory: %w", err)
			}
		}
		if err := r.fs.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return protocol.Reply{}, fmt.Errorf("write export file: %w", err)
		}
		r.metrics.ExportFileWritten()
	}
	r.logger.Info("schedule exported", "stationId", ev.StationID, "dir", dir, "files", len(ev.Files))
	return protocol.SuccessReply(), nil
}
