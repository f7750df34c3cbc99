// Package replay feeds the pipeline with recorded or synthesized
// detection frames. Recorded input is JSONL, one frame per line, which
// keeps capture files appendable and streamable.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/roadside-data/perception/internal/perception"
)

type frameRecord struct {
	Step        int64       `json:"step"`
	TSUnixNanos int64       `json:"ts_unix_nanos"`
	Detections  []detRecord `json:"detections"`
}

type detRecord struct {
	SensorID string     `json:"sensor_id"`
	Box      [4]float64 `json:"box"`
	ClassID  int        `json:"class_id"`
	Score    float64    `json:"score"`
}

// Reader decodes detection frames from a JSONL stream.
type Reader struct {
	sc     *bufio.Scanner
	closer io.Closer
	line   int
}

// NewReader wraps an open JSONL stream.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	// Dense frames can exceed the default token size.
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{sc: sc}
}

// Open opens a JSONL capture file for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Next returns the next frame, or io.EOF when the stream is exhausted.
// Blank lines are skipped so hand-edited captures stay readable.
func (r *Reader) Next() (*perception.DetectionBatch, error) {
	for r.sc.Scan() {
		r.line++
		raw := r.sc.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec frameRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("capture line %d: %w", r.line, err)
		}

		batch := perception.NewDetectionBatch(rec.Step, rec.TSUnixNanos)
		for _, d := range rec.Detections {
			det := perception.NewDetection(d.Box, d.ClassID, d.Score, d.SensorID, rec.TSUnixNanos)
			batch.BySensor[d.SensorID] = append(batch.BySensor[d.SensorID], det)
		}
		return batch, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("capture read: %w", err)
	}
	return nil, io.EOF
}

// WriteFrames encodes batches as JSONL, the inverse of Next. Used by
// the synthetic generator to produce capture files.
func WriteFrames(w io.Writer, batches []*perception.DetectionBatch) error {
	enc := json.NewEncoder(w)
	for _, b := range batches {
		rec := frameRecord{Step: b.Step, TSUnixNanos: b.TSUnixNanos}
		for _, sensorID := range sortedSensorIDs(b) {
			for _, d := range b.BySensor[sensorID] {
				rec.Detections = append(rec.Detections, detRecord{
					SensorID: d.SensorID,
					Box:      d.Box,
					ClassID:  d.ClassID,
					Score:    d.Score,
				})
			}
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("capture write step %d: %w", b.Step, err)
		}
	}
	return nil
}

func sortedSensorIDs(b *perception.DetectionBatch) []string {
	ids := make([]string, 0, len(b.BySensor))
	for id := range b.BySensor {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
