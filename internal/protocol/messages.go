// ABOUTME: Message types for the roomtone wire protocol
// ABOUTME: One Go type per wire tag, closed under the Message interface
package protocol

// Wire tags. Every encoded record is a map carrying "type" plus the
// tag's named fields.
const (
	TagServerInfo   = "server_info"
	TagSyncRequest  = "sync_request"
	TagSyncResponse = "sync_response"
	TagAudioChunk   = "audio_chunk"
	TagClientReady  = "client_ready"
	TagError        = "error"
)

// Message is the closed union of wire messages.
type Message interface {
	Tag() string
}

// ServerInfo is the session descriptor, sent source→sink once per
// connection. The PCM parameters are immutable for the session.
type ServerInfo struct {
	SampleRate      int
	Channels        int
	BitDepth        int
	ChunkDurationMs int
	ServerStartTime float64
}

func (ServerInfo) Tag() string { return TagServerInfo }

// SyncRequest opens a clock sync exchange. T1 is the sink's monotonic
// clock at send time.
type SyncRequest struct {
	T1 float64
}

func (SyncRequest) Tag() string { return TagSyncRequest }

// SyncResponse completes a clock sync exchange. T2 is the source clock
// at receipt of the request, T3 the source clock just before the
// response is written.
type SyncResponse struct {
	T1 float64
	T2 float64
	T3 float64
}

func (SyncResponse) Tag() string { return TagSyncResponse }

// AudioChunk carries one PCM frame. Timestamp is the source monotonic
// clock in fractional milliseconds; Sequence increases by one per frame
// over the source lifetime, gaps visible to the sink mean loss.
type AudioChunk struct {
	Timestamp float64
	Sequence  uint32
	Data      []byte
}

func (AudioChunk) Tag() string { return TagAudioChunk }

// ClientReady declares a sink synchronized and willing to receive audio.
type ClientReady struct {
	ClientID string
}

func (ClientReady) Tag() string { return TagClientReady }

// ErrorMessage reports a fault to the peer. Informational; the receiver
// decides whether to close.
type ErrorMessage struct {
	Message string
}

func (ErrorMessage) Tag() string { return TagError }
