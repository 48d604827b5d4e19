// ABOUTME: MessagePack codec for the roomtone wire protocol
// ABOUTME: Encodes tagged maps and validates field presence, type, and range on decode
package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformedMessage is returned by Decode when a record cannot be
// interpreted: undecodable bytes, an unknown tag, a missing or
// mistyped field, or a numeric value out of range. The channel stays
// usable after a malformed record; callers drop the message and move on.
var ErrMalformedMessage = errors.New("malformed message")

// Wire structs fix the field layout. Struct fields encode as a fixmap
// with fixstr keys in declaration order, which keeps the byte stream
// stable for the browser-side decoder.

type wireServerInfo struct {
	Type            string  `msgpack:"type"`
	SampleRate      int     `msgpack:"sampleRate"`
	Channels        int     `msgpack:"channels"`
	BitDepth        int     `msgpack:"bitDepth"`
	ChunkDurationMs int     `msgpack:"chunkDurationMs"`
	ServerStartTime float64 `msgpack:"serverStartTime"`
}

type wireSyncRequest struct {
	Type string  `msgpack:"type"`
	T1   float64 `msgpack:"t1"`
}

type wireSyncResponse struct {
	Type string  `msgpack:"type"`
	T1   float64 `msgpack:"t1"`
	T2   float64 `msgpack:"t2"`
	T3   float64 `msgpack:"t3"`
}

type wireAudioChunk struct {
	Type      string  `msgpack:"type"`
	Timestamp float64 `msgpack:"timestamp"`
	Sequence  uint32  `msgpack:"sequence"`
	Data      []byte  `msgpack:"data"`
}

type wireClientReady struct {
	Type     string `msgpack:"type"`
	ClientID string `msgpack:"clientId"`
}

type wireError struct {
	Type    string `msgpack:"type"`
	Message string `msgpack:"message"`
}

// Encode serializes a message to one self-delimited MessagePack record.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case ServerInfo:
		return msgpack.Marshal(wireServerInfo{
			Type:            TagServerInfo,
			SampleRate:      v.SampleRate,
			Channels:        v.Channels,
			BitDepth:        v.BitDepth,
			ChunkDurationMs: v.ChunkDurationMs,
			ServerStartTime: v.ServerStartTime,
		})
	case SyncRequest:
		return msgpack.Marshal(wireSyncRequest{Type: TagSyncRequest, T1: v.T1})
	case SyncResponse:
		return msgpack.Marshal(wireSyncResponse{Type: TagSyncResponse, T1: v.T1, T2: v.T2, T3: v.T3})
	case AudioChunk:
		return msgpack.Marshal(wireAudioChunk{
			Type:      TagAudioChunk,
			Timestamp: v.Timestamp,
			Sequence:  v.Sequence,
			Data:      v.Data,
		})
	case ClientReady:
		return msgpack.Marshal(wireClientReady{Type: TagClientReady, ClientID: v.ClientID})
	case ErrorMessage:
		return msgpack.Marshal(wireError{Type: TagError, Message: v.Message})
	default:
		return nil, fmt.Errorf("encode: unsupported message type %T", m)
	}
}

// Decode parses one record. Decoding goes through a raw map rather than
// straight into a struct so that absent fields, wrong types, and
// out-of-range values are caught instead of defaulting to zero.
func Decode(data []byte) (Message, error) {
	var raw map[string]interface{}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	tag, err := stringField(raw, "type")
	if err != nil {
		return nil, err
	}

	switch tag {
	case TagServerInfo:
		return decodeServerInfo(raw)
	case TagSyncRequest:
		t1, err := floatField(raw, "t1")
		if err != nil {
			return nil, err
		}
		return SyncRequest{T1: t1}, nil
	case TagSyncResponse:
		t1, err := floatField(raw, "t1")
		if err != nil {
			return nil, err
		}
		t2, err := floatField(raw, "t2")
		if err != nil {
			return nil, err
		}
		t3, err := floatField(raw, "t3")
		if err != nil {
			return nil, err
		}
		return SyncResponse{T1: t1, T2: t2, T3: t3}, nil
	case TagAudioChunk:
		return decodeAudioChunk(raw)
	case TagClientReady:
		id, err := stringField(raw, "clientId")
		if err != nil {
			return nil, err
		}
		return ClientReady{ClientID: id}, nil
	case TagError:
		msg, err := stringField(raw, "message")
		if err != nil {
			return nil, err
		}
		return ErrorMessage{Message: msg}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrMalformedMessage, tag)
	}
}

func decodeServerInfo(raw map[string]interface{}) (Message, error) {
	si := ServerInfo{}
	var err error
	if si.SampleRate, err = intField(raw, "sampleRate"); err != nil {
		return nil, err
	}
	if si.Channels, err = intField(raw, "channels"); err != nil {
		return nil, err
	}
	if si.BitDepth, err = intField(raw, "bitDepth"); err != nil {
		return nil, err
	}
	if si.ChunkDurationMs, err = intField(raw, "chunkDurationMs"); err != nil {
		return nil, err
	}
	if si.ServerStartTime, err = floatField(raw, "serverStartTime"); err != nil {
		return nil, err
	}
	if si.SampleRate <= 0 || si.Channels <= 0 || si.BitDepth <= 0 || si.ChunkDurationMs <= 0 {
		return nil, fmt.Errorf("%w: non-positive PCM parameter in server_info", ErrMalformedMessage)
	}
	return si, nil
}

func decodeAudioChunk(raw map[string]interface{}) (Message, error) {
	ts, err := floatField(raw, "timestamp")
	if err != nil {
		return nil, err
	}
	if ts < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return nil, fmt.Errorf("%w: timestamp out of range", ErrMalformedMessage)
	}
	seq, err := uintField(raw, "sequence")
	if err != nil {
		return nil, err
	}
	if seq > math.MaxUint32 {
		return nil, fmt.Errorf("%w: sequence out of range", ErrMalformedMessage)
	}
	payload, err := bytesField(raw, "data")
	if err != nil {
		return nil, err
	}
	return AudioChunk{Timestamp: ts, Sequence: uint32(seq), Data: payload}, nil
}

func stringField(raw map[string]interface{}, name string) (string, error) {
	v, ok := raw[name]
	if !ok {
		return "", fmt.Errorf("%w: missing field %q", ErrMalformedMessage, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q is not a string", ErrMalformedMessage, name)
	}
	return s, nil
}

func bytesField(raw map[string]interface{}, name string) ([]byte, error) {
	v, ok := raw[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing field %q", ErrMalformedMessage, name)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not binary", ErrMalformedMessage, name)
	}
	return b, nil
}

// floatField accepts the full MessagePack numeric family; senders are
// free to pick the shortest integer encoding for whole-millisecond
// timestamps.
func floatField(raw map[string]interface{}, name string) (float64, error) {
	v, ok := raw[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q", ErrMalformedMessage, name)
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: field %q is not numeric", ErrMalformedMessage, name)
	}
	return f, nil
}

func intField(raw map[string]interface{}, name string) (int, error) {
	v, ok := raw[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q", ErrMalformedMessage, name)
	}
	n, ok := asInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: field %q is not an integer", ErrMalformedMessage, name)
	}
	return int(n), nil
}

func uintField(raw map[string]interface{}, name string) (uint64, error) {
	v, ok := raw[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q", ErrMalformedMessage, name)
	}
	n, ok := asInt(v)
	if !ok || n < 0 {
		return 0, fmt.Errorf("%w: field %q is not an unsigned integer", ErrMalformedMessage, name)
	}
	return uint64(n), nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		if i, ok := asInt(v); ok {
			return float64(i), true
		}
		return 0, false
	}
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
