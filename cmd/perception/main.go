// Command perception runs the multi-camera perception core over a
// recorded detection capture or a synthetic scenario, maintaining
// tracked objects and optionally persisting the run to SQLite.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/roadside-data/perception/internal/config"
	"github.com/roadside-data/perception/internal/perception"
	"github.com/roadside-data/perception/internal/perception/fuse"
	"github.com/roadside-data/perception/internal/perception/localize"
	"github.com/roadside-data/perception/internal/perception/pipeline"
	"github.com/roadside-data/perception/internal/perception/replay"
	"github.com/roadside-data/perception/internal/perception/state"
	"github.com/roadside-data/perception/internal/perception/storage/sqlite"
	"github.com/roadside-data/perception/internal/perception/track"
	"github.com/roadside-data/perception/internal/units"
	"github.com/roadside-data/perception/internal/version"
)

var (
	sceneFlag     = flag.String("scene", "", "Scene YAML file (required unless -synthetic)")
	tuningFlag    = flag.String("tuning", "", "Tuning JSON file (optional, defaults apply)")
	captureFlag   = flag.String("capture", "", "JSONL detection capture to replay")
	syntheticFlag = flag.Int("synthetic", 0, "Process N generated synthetic frames instead of a capture")
	rateFlag      = flag.Float64("rate", 10, "Synthetic frame rate in Hz")
	dbFlag        = flag.String("db", "", "SQLite database path for run persistence (optional)")
	emitFlag      = flag.Bool("emit", false, "Write per-frame track states to stdout as JSONL")
	unitsFlag     = flag.String("units", "", "Speed units for the run summary (overrides tuning)")
	verboseFlag   = flag.Bool("verbose", false, "Enable diagnostic logging")
	traceFlag     = flag.Bool("trace", false, "Enable per-frame trace logging")
	versionFlag   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("perception %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	writers := perception.LogWriters{Ops: os.Stderr}
	if *verboseFlag {
		writers.Diag = os.Stderr
	}
	if *traceFlag {
		writers.Diag = os.Stderr
		writers.Trace = os.Stderr
	}
	perception.SetLogWriters(writers)

	if err := run(); err != nil {
		log.Fatalf("perception: %v", err)
	}
}

// input bundles everything the pipeline needs about where frames come
// from: the scene geometry and the frame source itself.
type input struct {
	sceneName string
	originLat float64
	originLon float64
	sensorIDs []string
	zones     []fuse.Zone
	surfaces  map[string]*localize.Surface

	next func() (*perception.DetectionBatch, error) // io.EOF ends the run
}

func run() error {
	tuning := config.EmptyTuningConfig()
	if *tuningFlag != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningFlag)
		if err != nil {
			return err
		}
	}

	in, err := openInput()
	if err != nil {
		return err
	}

	loc, err := localize.NewLocalizer(in.sensorIDs, in.surfaces)
	if err != nil {
		return err
	}
	fuser, err := fuse.NewFuser(in.sensorIDs, in.zones, tuning.FuserConfig())
	if err != nil {
		return err
	}
	proj := perception.NewProjector(in.originLat, in.originLon)
	tracker, err := track.NewTracker(tuning.TrackerConfig(), proj)
	if err != nil {
		return err
	}

	cfg := pipeline.Config{
		Localizer: loc,
		Fuser:     fuser,
		Tracker:   tracker,
		Estimator: state.NewEstimator(tuning.EstimatorConfig(), proj),
	}

	var store *sqlite.Store
	var sink *pipeline.BufferedSink
	var runID string
	if *dbFlag != "" {
		store, err = sqlite.Open(*dbFlag)
		if err != nil {
			return err
		}
		defer store.Close()

		runID, err = store.BeginRun(in.sceneName, "", time.Now().UnixNano())
		if err != nil {
			return err
		}
		sink, err = pipeline.NewBufferedSink(store, nil, tuning.GetFlushInterval(), 1024)
		if err != nil {
			return err
		}
		cfg.Persistence = sink
		cfg.RunID = runID
		log.Printf("recording run %s", runID)
	}
	if *emitFlag {
		cfg.Publisher = &stdoutPublisher{enc: json.NewEncoder(os.Stdout)}
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	for {
		batch, err := in.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if _, err := p.Process(batch); err != nil {
			return err
		}
	}

	log.Printf("processed %d frames, dropped %d unlocalizable detections",
		p.Frames(), p.DroppedDetections())

	if store != nil {
		if err := sink.Flush(); err != nil {
			return err
		}
		if err := store.FinishRun(runID, time.Now().UnixNano(), p.Frames()); err != nil {
			return err
		}
		printSpeedSummary(store, runID, speedUnits(tuning))
	}
	return nil
}

func openInput() (*input, error) {
	if *syntheticFlag > 0 {
		scenario := replay.NewSyntheticScenario(*syntheticFlag, *rateFlag)
		i := 0
		return &input{
			sceneName: "synthetic",
			originLat: scenario.OriginLat,
			originLon: scenario.OriginLon,
			sensorIDs: scenario.SensorIDs,
			zones:     scenario.Zones,
			surfaces:  scenario.Surfaces,
			next: func() (*perception.DetectionBatch, error) {
				if i >= len(scenario.Frames) {
					return nil, io.EOF
				}
				b := scenario.Frames[i]
				i++
				return b, nil
			},
		}, nil
	}

	if *sceneFlag == "" {
		return nil, fmt.Errorf("either -scene or -synthetic is required")
	}
	if *captureFlag == "" {
		return nil, fmt.Errorf("-capture is required with -scene")
	}

	scene, err := config.LoadSceneConfig(*sceneFlag)
	if err != nil {
		return nil, err
	}
	surfaces := make(map[string]*localize.Surface, len(scene.Sensors))
	for _, s := range scene.Sensors {
		surf, err := localize.LoadSurface(s.Surface)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", s.ID, err)
		}
		surfaces[s.ID] = surf
	}

	reader, err := replay.Open(*captureFlag)
	if err != nil {
		return nil, err
	}
	return &input{
		sceneName: scene.Name,
		originLat: scene.Origin.Lat,
		originLon: scene.Origin.Lon,
		sensorIDs: scene.SensorIDs(),
		zones:     scene.FuseZones(),
		surfaces:  surfaces,
		next:      reader.Next,
	}, nil
}

func speedUnits(tuning *config.TuningConfig) string {
	if *unitsFlag != "" {
		if !units.IsValid(*unitsFlag) {
			log.Printf("unknown units %q, valid: %s", *unitsFlag, units.GetValidUnitsString())
			return tuning.GetSpeedUnits()
		}
		return *unitsFlag
	}
	return tuning.GetSpeedUnits()
}

func printSpeedSummary(store *sqlite.Store, runID, targetUnits string) {
	quantiles, err := store.SpeedPercentiles(runID, []float64{0.5, 0.85, 0.95})
	if err != nil {
		log.Printf("speed summary unavailable: %v", err)
		return
	}
	log.Printf("speeds (%s): p50=%.1f p85=%.1f p95=%.1f",
		targetUnits,
		units.ConvertSpeed(quantiles[0], targetUnits),
		units.ConvertSpeed(quantiles[1], targetUnits),
		units.ConvertSpeed(quantiles[2], targetUnits))
}

// stdoutPublisher streams track states as JSONL for piping into other
// tools.
type stdoutPublisher struct {
	enc *json.Encoder
}

type emitRecord struct {
	TrackID      int64   `json:"track_id"`
	TSUnixNanos  int64   `json:"ts_unix_nanos"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	ClassID      int     `json:"class_id"`
	Score        float64 `json:"score"`
	SpeedMps     float64 `json:"speed_mps"`
	HeadingDeg   float64 `json:"heading_deg"`
	HeadingValid bool    `json:"heading_valid"`
	State        string  `json:"state"`
	Predicted    bool    `json:"predicted"`
}

func (s *stdoutPublisher) PublishStates(states []perception.TrackedState) {
	for _, st := range states {
		rec := emitRecord{
			TrackID:      st.TrackID,
			TSUnixNanos:  st.TSUnixNanos,
			Lat:          st.Lat,
			Lon:          st.Lon,
			ClassID:      st.ClassID,
			Score:        st.Score,
			SpeedMps:     st.SpeedMps,
			HeadingDeg:   units.HeadingDegrees(st.HeadingRad),
			HeadingValid: st.HeadingValid,
			State:        string(st.State),
			Predicted:    st.Predicted,
		}
		if err := s.enc.Encode(rec); err != nil {
			perception.Opsf("[emit] encode failed: %v", err)
			return
		}
	}
}
