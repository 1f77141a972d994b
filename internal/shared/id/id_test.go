package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{SessionPrefix, StreamPrefix, RequestPrefix} {
		id := gen.GenerateWithPrefix(prefix)

		if !strings.HasPrefix(id, prefix+"_") {
			t.Errorf("ID should start with '%s_', got: %s", prefix, id)
		}

		parts := strings.Split(id, "_")
		if len(parts) != 2 || len(parts[1]) != 26 {
			t.Errorf("Prefixed ID should have format 'prefix_<26-char ulid>', got: %s", id)
		}
	}
}

func TestTypedIDs(t *testing.T) {
	sess := NewSessionID()
	strm := NewStreamID()
	req := NewRequestID()

	if !strings.HasPrefix(sess.String(), "sess_") {
		t.Errorf("unexpected session id: %s", sess)
	}
	if !strings.HasPrefix(strm.String(), "strm_") {
		t.Errorf("unexpected stream id: %s", strm)
	}
	if !strings.HasPrefix(req.String(), "req_") {
		t.Errorf("unexpected request id: %s", req)
	}
}
