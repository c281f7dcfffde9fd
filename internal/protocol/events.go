package protocol

// RequestEvent names an operation the relay may request.
type RequestEvent string

const (
	EventStreamAudio    RequestEvent = "stream:audio"
	EventExportSchedule RequestEvent = "export-schedule"
)

// EventName names a plain (non request) event.
type EventName string

const (
	EventDownloadUpdate  EventName = "download-update"
	EventRefreshStations EventName = "refresh-stations"

	// EventUpdateAvailable is the name older relays use for
	// EventDownloadUpdate.
	EventUpdateAvailable EventName = "update-available"
)

// Error codes carried in ErrorPayload.Error.
const (
	CodeMissingPath       = "missing_path"
	CodeFileNotFound      = "file_not_found"
	CodeInvalidChunkIndex = "invalid_chunk_index"
	CodeInvalidPath       = "invalid_path"
	CodeUnknownEvent      = "unknown_request_event"
	CodeHandlerFailed     = "request_handler_failed"
	CodeRequestTimeout    = "request_timeout"
)

// AudioRequest is the payload of a stream:audio request.
type AudioRequest struct {
	Path string `json:"path"`

	// ChunkSize bounds the bytes returned in one frame. Zero means
	// DefaultChunkSize.
	ChunkSize int `json:"chunkSize,omitempty"`

	// Index selects which chunk to return. Peers that do not know about
	// continuation leave it at zero and get the first chunk.
	Index int `json:"index,omitempty"`
}

// ExportFile is one file of an ExportEvent.
type ExportFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// ExportEvent is the payload of an export-schedule request.
type ExportEvent struct {
	StationID int64 `json:"stationId"`

	// Directory is an optional subdirectory of the station's export path.
	Directory string       `json:"directory,omitempty"`
	Files     []ExportFile `json:"files"`
}
