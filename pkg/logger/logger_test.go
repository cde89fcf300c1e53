package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestCountersAndChildFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("stage", "assemble"))
	l.Info("stage done", Counters("skip_stats", map[string]int{"window": 3, "index": 1}), Int("rows", 7))

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if got["stage"] != "assemble" {
		t.Fatalf("missing child field: %v", got)
	}
	stats, ok := got["skip_stats"].(map[string]interface{})
	if !ok || stats["window"] != float64(3) || stats["index"] != float64(1) {
		t.Fatalf("unexpected counters: %v", got["skip_stats"])
	}
	if got["rows"] != float64(7) {
		t.Fatalf("unexpected rows: %v", got["rows"])
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(&Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error")
	}
}
