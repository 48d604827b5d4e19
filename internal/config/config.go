// ABOUTME: Session-wide tuning constants for the roomtone pipeline
// ABOUTME: PCM format, buffer sizing, and sync cadence shared by source and sink
package config

import "fmt"

const (
	// PCM format, fixed per session
	SampleRate      = 48000
	Channels        = 2
	BitDepth        = 16
	ChunkDurationMs = 20

	SamplesPerChunk = (SampleRate * ChunkDurationMs) / 1000
	BytesPerSample  = Channels * (BitDepth / 8)
	BytesPerChunk   = SamplesPerChunk * BytesPerSample
	BytesPerSecond  = SampleRate * BytesPerSample

	DefaultPort = 8765

	// Clock sync cadence and window
	SyncIntervalMs = 1000
	SyncSamples    = 5

	// Playout buffer budget
	TargetBufferMs = 60
	MinBufferMs    = 30
	MaxBufferMs    = 200

	// Drift beyond this is logged as suspect
	MaxDriftMs = 5
)

// Entry is one row of the info dump.
type Entry struct {
	Name    string
	Value   string
	Meaning string
}

// Info returns the tuning table for the `roomtone info` command.
func Info() []Entry {
	return []Entry{
		{"sampleRate", fmt.Sprintf("%d", SampleRate), "Hz"},
		{"channels", fmt.Sprintf("%d", Channels), "stereo interleaved"},
		{"bitDepth", fmt.Sprintf("%d", BitDepth), "S16LE"},
		{"chunkDurationMs", fmt.Sprintf("%d", ChunkDurationMs), "frame span"},
		{"samplesPerFrame", fmt.Sprintf("%d", SamplesPerChunk), "per channel"},
		{"bytesPerFrame", fmt.Sprintf("%d", BytesPerChunk), ""},
		{"defaultPort", fmt.Sprintf("%d", DefaultPort), ""},
		{"syncIntervalMs", fmt.Sprintf("%d", SyncIntervalMs), ""},
		{"syncSamples", fmt.Sprintf("%d", SyncSamples), "window size"},
		{"targetBufferMs", fmt.Sprintf("%d", TargetBufferMs), "playout delay past source time"},
		{"minBufferMs", fmt.Sprintf("%d", MinBufferMs), "lower guidance"},
		{"maxBufferMs", fmt.Sprintf("%d", MaxBufferMs), "buffer eviction threshold"},
		{"maxDriftMs", fmt.Sprintf("%d", MaxDriftMs), "diagnostic threshold"},
	}
}
