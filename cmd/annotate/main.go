// Command annotate runs the detection model on a single JPEG and writes the
// annotated copy, printing the detections as JSON.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/capture"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/detector"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/logger"
)

func main() {
	in := flag.String("in", "", "Input JPEG")
	out := flag.String("out", "annotated.jpg", "Output JPEG")
	modelPath := flag.String("model", "models/best.onnx", "Detection model path")
	modelConfig := flag.String("model-config", "", "Network config for .pb/.weights models (.pbtxt, .cfg)")
	labelsPath := flag.String("labels", "", "Class names file (data.yaml or one name per line)")
	threshold := flag.Float64("threshold", annotate.DefaultInferenceThreshold, "Minimum confidence for a detection")
	quality := flag.Int("quality", capture.DefaultJPEGQuality, "Output JPEG quality")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, true)

	if *in == "" {
		log.Fatalf("-in is required")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		log.Fatalf("Read input: %v", err)
	}
	frame, err := capture.DecodeJPEG(data)
	if err != nil {
		log.Fatalf("Decode %s: %v", *in, err)
	}

	opts := detector.DefaultOptions()
	opts.ConfigPath = *modelConfig
	opts.LabelsPath = *labelsPath
	handle := detector.NewHandle(*modelPath, opts)
	defer handle.Close()

	processor, err := handle.Processor(annotate.WithInferenceThreshold(*threshold), annotate.WithBudget(0))
	if err != nil {
		var le *detector.LoadError
		if errors.As(err, &le) {
			log.Fatalf("%s", le.Notice())
		}
		log.Fatalf("Load model: %v", err)
	}

	res := processor.Annotate(frame)
	if res.Err != nil {
		log.Fatalf("Annotate: %v", res.Err)
	}
	logger.Info("Annotate", "%d detection(s) in %v", len(res.Detections), res.Elapsed)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Detections); err != nil {
		log.Fatalf("Write detections: %v", err)
	}

	encoded, err := capture.EncodeJPEG(res.Frame, *quality)
	if err != nil {
		log.Fatalf("Encode output: %v", err)
	}
	if err := os.WriteFile(*out, encoded, 0o644); err != nil {
		log.Fatalf("Write output: %v", err)
	}
}
