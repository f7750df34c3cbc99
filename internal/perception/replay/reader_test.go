package replay

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCapture = `{"step":1,"ts_unix_nanos":1000000000,"detections":[{"sensor_id":"cam-1","box":[10,20,50,80],"class_id":2,"score":0.9}]}

{"step":2,"ts_unix_nanos":1100000000,"detections":[{"sensor_id":"cam-1","box":[12,20,52,80],"class_id":2,"score":0.88},{"sensor_id":"cam-2","box":[300,100,360,180],"class_id":7,"score":0.7}]}
`

func TestReader_Next(t *testing.T) {
	r := NewReader(strings.NewReader(sampleCapture))

	first, err := r.Next()
	if err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if first.Step != 1 || first.TSUnixNanos != 1000000000 {
		t.Errorf("first frame header = step %d ts %d", first.Step, first.TSUnixNanos)
	}
	if first.Count() != 1 {
		t.Errorf("first frame count = %d, want 1", first.Count())
	}
	d := first.BySensor["cam-1"][0]
	if d.Box != [4]float64{10, 20, 50, 80} || d.ClassID != 2 || d.Score != 0.9 {
		t.Errorf("decoded detection = %+v", d)
	}
	if d.TSUnixNanos != first.TSUnixNanos {
		t.Error("detection timestamp not inherited from frame")
	}
	if d.HasGeo() {
		t.Error("freshly decoded detection claims geographic coordinates")
	}

	// The blank line between frames is skipped.
	second, err := r.Next()
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if second.Count() != 2 || len(second.BySensor["cam-2"]) != 1 {
		t.Errorf("second frame = %+v", second)
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("end of stream error = %v, want io.EOF", err)
	}
}

func TestReader_MalformedLine(t *testing.T) {
	r := NewReader(strings.NewReader("{\"step\":1}\nnot json\n"))
	if _, err := r.Next(); err != nil {
		t.Fatalf("valid line rejected: %v", err)
	}
	if _, err := r.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("malformed line error = %v, want decode error", err)
	}
}

func TestWriteFrames_RoundTrip(t *testing.T) {
	scenario := NewSyntheticScenario(5, 10)

	var buf bytes.Buffer
	if err := WriteFrames(&buf, scenario.Frames); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}

	r := NewReader(&buf)
	for i, want := range scenario.Frames {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got.Step != want.Step || got.TSUnixNanos != want.TSUnixNanos {
			t.Errorf("frame %d header = (%d, %d), want (%d, %d)",
				i, got.Step, got.TSUnixNanos, want.Step, want.TSUnixNanos)
		}
		if got.Count() != want.Count() {
			t.Errorf("frame %d count = %d, want %d", i, got.Count(), want.Count())
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("trailing read = %v, want io.EOF", err)
	}
}

func TestOpen_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	if err := os.WriteFile(path, []byte(sampleCapture), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	n := 0
	for {
		if _, err := r.Next(); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Next: %v", err)
			}
			break
		}
		n++
	}
	if n != 2 {
		t.Errorf("read %d frames, want 2", n)
	}
}
