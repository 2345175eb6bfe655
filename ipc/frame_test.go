package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/shortlist/types"
)

// encodeFrame encodes a raw payload with a length prefix.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func testFrame(seq int64, typ types.EventType) *types.StateFrame {
	return &types.StateFrame{
		ContractVersion: types.ContractVersion,
		Seq:             seq,
		Type:            typ,
		Ts:              time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
		Epoch:           "sess-1",
		Status:          "processing",
		Setup:           "committed",
		Progress:        &types.FrameProgress{Settled: 1, Total: 3, Succeeded: 1},
		RunID:           "run-1",
	}
}

func TestEncodeFrame_RoundTrip(t *testing.T) {
	var stream bytes.Buffer
	for i, typ := range []types.EventType{types.EventTypeState, types.EventTypeProgress, types.EventTypeBatchCompleted} {
		buf, err := EncodeFrame(testFrame(int64(i+1), typ))
		if err != nil {
			t.Fatalf("EncodeFrame: %v", err)
		}
		stream.Write(buf)
	}

	decoder := NewFrameDecoder(&stream)
	for i, want := range []types.EventType{types.EventTypeState, types.EventTypeProgress, types.EventTypeBatchCompleted} {
		frame, err := decoder.ReadStateFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if frame.Seq != int64(i+1) || frame.Type != want {
			t.Errorf("frame %d = (seq %d, %s), want (seq %d, %s)", i, frame.Seq, frame.Type, i+1, want)
		}
		if frame.Progress == nil || frame.Progress.Total != 3 {
			t.Errorf("frame %d Progress = %+v, want total 3", i, frame.Progress)
		}
	}
	if _, err := decoder.ReadFrame(); err != io.EOF {
		t.Errorf("after last frame err = %v, want io.EOF", err)
	}
}

func TestEncodeFrame_WireKeys(t *testing.T) {
	buf, err := EncodeFrame(testFrame(1, types.EventTypeState))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if got := binary.BigEndian.Uint32(buf[:LengthPrefixSize]); int(got) != len(buf)-LengthPrefixSize {
		t.Errorf("length prefix = %d, want %d", got, len(buf)-LengthPrefixSize)
	}

	var raw map[string]any
	if err := msgpack.Unmarshal(buf[LengthPrefixSize:], &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"contract_version", "seq", "type", "ts", "epoch", "status", "setup", "progress", "run_id"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if _, ok := raw["outcome"]; ok {
		t.Error("empty outcome should be omitted")
	}
}

func TestDecodeStateFrame_UnknownType(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]any{"type": "artifact_chunk", "seq": 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	_, err = DecodeStateFrame(payload)
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorVersion {
		t.Fatalf("err = %v, want FrameErrorVersion", err)
	}
	if frameErr.IsFatal() {
		t.Error("unknown type should not be fatal")
	}
}

func TestFrameDecoder_PartialFrame(t *testing.T) {
	frame, err := EncodeFrame(testFrame(1, types.EventTypeState))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	truncated := frame[:LengthPrefixSize+len(frame[LengthPrefixSize:])/2]

	_, err = NewFrameDecoder(bytes.NewReader(truncated)).ReadFrame()
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorPartial {
		t.Fatalf("err = %v, want FrameErrorPartial", err)
	}
	if !IsFatalFrameError(err) {
		t.Error("partial frame should be fatal")
	}
}

func TestFrameDecoder_OversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(MaxPayloadSize+1))

	_, err := NewFrameDecoder(&buf).ReadFrame()
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Fatalf("err = %v, want FrameErrorTooLarge", err)
	}
	if !frameErr.IsFatal() {
		t.Error("oversized frame should be fatal")
	}
}

func TestFrameDecoder_TruncatedLengthPrefix(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x00})).ReadFrame()
	if !IsFatalFrameError(err) {
		t.Fatalf("err = %v, want fatal frame error", err)
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	if _, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestDecodeStateFrame_Malformed(t *testing.T) {
	payload, err := NewFrameDecoder(bytes.NewReader(encodeFrame([]byte{0xFF, 0xFF, 0xFF}))).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	_, err = DecodeStateFrame(payload)
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorDecode {
		t.Fatalf("err = %v, want FrameErrorDecode", err)
	}
	if IsFatalFrameError(err) {
		t.Error("decode errors should not be fatal")
	}
}

func TestFrameError(t *testing.T) {
	err := &FrameError{Kind: FrameErrorPartial, Msg: "read failed", Err: io.ErrUnexpectedEOF}
	if got := err.Error(); got != "read failed: unexpected EOF" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("errors.Is should find the wrapped error")
	}
	if IsFatalFrameError(errors.New("plain")) || IsFatalFrameError(nil) || IsFatalFrameError(io.EOF) {
		t.Error("non-frame errors should not be fatal frame errors")
	}
}
