package wire

import "testing"

func seq(n uint64) *uint64 { return &n }

func sampleMove() Envelope {
	return Envelope{
		T:    TypeMove,
		From: "P1",
		Ts:   12345,
		Seq:  seq(7),
		Move: &MovePayload{Position: Position{X: 1, Y: 2}},
	}
}

func TestJSONRoundTrip(t *testing.T) {
	s := NewSerializer(SchemeJSON)
	in := sampleMove()

	frame, err := s.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame.IsBinary() {
		t.Fatal("json serializer produced a binary frame")
	}

	out, err := s.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.T != in.T || out.From != in.From || *out.Seq != *in.Seq {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
	if out.Move == nil || out.Move.Position != in.Move.Position {
		t.Fatalf("move payload mismatch: got %+v", out.Move)
	}
}

func TestBinaryMinRoundTrip(t *testing.T) {
	s := NewSerializer(SchemeBinaryMin)
	in := sampleMove()

	frame, err := s.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !frame.IsBinary() {
		t.Fatal("binary-min serializer produced a text frame")
	}

	out, err := s.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.T != in.T || out.From != in.From {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestDecodeUnparsableIsRecoverableError(t *testing.T) {
	s := NewSerializer(SchemeJSON)
	_, err := s.Decode(Frame{Text: "{not json"})
	if err == nil {
		t.Fatal("expected an error decoding malformed input")
	}
}

func TestNewSerializerUnknownSchemePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected NewSerializer to panic on an unknown scheme")
		}
	}()
	NewSerializer("xml")
}
