// ABOUTME: Tests for the MessagePack wire codec
// ABOUTME: Round-trips every tag and checks malformed records are rejected, not zeroed
package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestRoundTripServerInfo(t *testing.T) {
	in := ServerInfo{
		SampleRate:      48000,
		Channels:        2,
		BitDepth:        16,
		ChunkDurationMs: 20,
		ServerStartTime: 1234.5,
	}
	out := roundTrip(t, in)
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestRoundTripSyncPair(t *testing.T) {
	req := roundTrip(t, SyncRequest{T1: 10.25})
	if req.(SyncRequest).T1 != 10.25 {
		t.Errorf("t1 = %v, want 10.25", req.(SyncRequest).T1)
	}

	resp := roundTrip(t, SyncResponse{T1: 1, T2: 2.5, T3: 3.75}).(SyncResponse)
	if resp.T1 != 1 || resp.T2 != 2.5 || resp.T3 != 3.75 {
		t.Errorf("got %+v", resp)
	}
}

func TestRoundTripAudioChunk(t *testing.T) {
	in := AudioChunk{Timestamp: 500.125, Sequence: 42, Data: []byte{1, 2, 3, 4}}
	out := roundTrip(t, in).(AudioChunk)
	if out.Timestamp != in.Timestamp || out.Sequence != in.Sequence {
		t.Errorf("got %+v, want %+v", out, in)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Errorf("data = %v, want %v", out.Data, in.Data)
	}
}

func TestRoundTripClientReadyAndError(t *testing.T) {
	ready := roundTrip(t, ClientReady{ClientID: "kitchen"}).(ClientReady)
	if ready.ClientID != "kitchen" {
		t.Errorf("clientId = %q", ready.ClientID)
	}

	em := roundTrip(t, ErrorMessage{Message: "boom"}).(ErrorMessage)
	if em.Message != "boom" {
		t.Errorf("message = %q", em.Message)
	}
}

func TestRoundTripEmptyChunkData(t *testing.T) {
	out := roundTrip(t, AudioChunk{Timestamp: 1, Sequence: 0, Data: []byte{}}).(AudioChunk)
	if len(out.Data) != 0 {
		t.Errorf("data length = %d, want 0", len(out.Data))
	}
}

func TestDecodeWholeMillisecondTimestamps(t *testing.T) {
	// A sender may encode whole milliseconds as msgpack integers.
	raw, err := msgpack.Marshal(map[string]interface{}{
		"type": TagSyncResponse,
		"t1":   int(100),
		"t2":   uint16(200),
		"t3":   int64(300),
	})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp := msg.(SyncResponse)
	if resp.T1 != 100 || resp.T2 != 200 || resp.T3 != 300 {
		t.Errorf("got %+v", resp)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not msgpack":  {0xc1, 0xff, 0x00},
		"unknown tag":  mustMarshal(t, map[string]interface{}{"type": "bogus"}),
		"missing type": mustMarshal(t, map[string]interface{}{"t1": 1.0}),
		"missing field": mustMarshal(t, map[string]interface{}{
			"type": TagSyncRequest,
		}),
		"wrong type field": mustMarshal(t, map[string]interface{}{
			"type": TagSyncRequest, "t1": "ten",
		}),
		"negative timestamp": mustMarshal(t, map[string]interface{}{
			"type": TagAudioChunk, "timestamp": -1.0, "sequence": 0, "data": []byte{1},
		}),
		"sequence overflow": mustMarshal(t, map[string]interface{}{
			"type": TagAudioChunk, "timestamp": 1.0, "sequence": uint64(1) << 40, "data": []byte{1},
		}),
		"negative sequence": mustMarshal(t, map[string]interface{}{
			"type": TagAudioChunk, "timestamp": 1.0, "sequence": -5, "data": []byte{1},
		}),
		"zero sample rate": mustMarshal(t, map[string]interface{}{
			"type": TagServerInfo, "sampleRate": 0, "channels": 2,
			"bitDepth": 16, "chunkDurationMs": 20, "serverStartTime": 0.0,
		}),
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw)
			if !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("err = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestEncodeUnknownType(t *testing.T) {
	type fake struct{ Message }
	if _, err := Encode(fake{}); err == nil {
		t.Error("expected error for unregistered message type")
	}
}

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Tag() != m.Tag() {
		t.Fatalf("tag = %q, want %q", out.Tag(), m.Tag())
	}
	return out
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}
