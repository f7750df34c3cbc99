// Command capture-gen writes a synthetic detection capture as JSONL,
// useful for exercising the replay path of the perception binary
// without live cameras.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/roadside-data/perception/internal/perception/replay"
)

func main() {
	var (
		out    = flag.String("out", "capture.jsonl", "Output JSONL path (- for stdout)")
		frames = flag.Int("frames", 100, "Number of frames to generate")
		rate   = flag.Float64("rate", 10, "Frame rate in Hz")
	)
	flag.Parse()

	scenario := replay.NewSyntheticScenario(*frames, *rate)

	w := os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("capture-gen: %v", err)
		}
		defer f.Close()
		w = f
	}
	if err := replay.WriteFrames(w, scenario.Frames); err != nil {
		log.Fatalf("capture-gen: %v", err)
	}
	log.Printf("wrote %d frames to %s", len(scenario.Frames), *out)
}
