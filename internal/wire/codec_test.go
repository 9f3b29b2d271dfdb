package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewCodec(nil, &buf, 0)

	req := CreateSessionReq{Name: "dev", Cols: 80, Rows: 24}
	env, err := EncodeBody(KindCreateSession, 42, req)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	if err := enc.Encode(env); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := NewCodec(&buf, nil, 0)
	got, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != KindCreateSession || got.RequestID != 42 {
		t.Fatalf("envelope mismatch: %+v", got)
	}

	var out CreateSessionReq
	if err := DecodeBody(got, &out); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if !reflect.DeepEqual(out, req) {
		t.Fatalf("body mismatch: got %+v want %+v", out, req)
	}
}

func TestLengthPrefixMatchesBytesWritten(t *testing.T) {
	var buf bytes.Buffer
	enc := NewCodec(nil, &buf, 0)
	env, err := EncodeBody(KindListSessions, 1, ListSessionsReq{})
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	if err := enc.Encode(env); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	prefix := binary.BigEndian.Uint32(buf.Bytes()[:4])
	if int(prefix) != buf.Len()-4 {
		t.Fatalf("length prefix %d does not match body length %d", prefix, buf.Len()-4)
	}
}

func TestMessageTooLarge(t *testing.T) {
	var buf bytes.Buffer
	enc := NewCodec(nil, &buf, 8) // absurdly small cap
	env, _ := EncodeBody(KindCreateSession, 1, CreateSessionReq{Name: "a-fairly-long-session-name-to-overflow"})
	if err := enc.Encode(env); err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestDecodePartialReadDoesNotConsume(t *testing.T) {
	var buf bytes.Buffer
	enc := NewCodec(nil, &buf, 0)
	env, _ := EncodeBody(KindListSessions, 7, ListSessionsReq{})
	if err := enc.Encode(env); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	full := buf.Bytes()
	// Feed only the length prefix plus one byte of body: Decode must fail
	// (short read) rather than return a corrupt Envelope.
	truncated := bytes.NewReader(full[:5])
	dec := NewCodec(truncated, nil, 0)
	if _, err := dec.Decode(); err == nil {
		t.Fatalf("expected error decoding a truncated frame")
	}
	// io.ErrUnexpectedEOF is the expected underlying cause of the short read.
	truncated2 := bytes.NewReader(full[:5])
	dec2 := NewCodec(truncated2, nil, 0)
	_, err := dec2.Decode()
	if err == nil || err == io.EOF {
		t.Fatalf("expected a read error other than clean EOF, got %v", err)
	}
}
