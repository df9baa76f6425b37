package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/cyclopcam/firewatch/pkg/nnload"
	"github.com/cyclopcam/firewatch/pkg/perfstats"
	"github.com/cyclopcam/firewatch/server/camera"
	"github.com/cyclopcam/firewatch/server/config"
	"github.com/cyclopcam/firewatch/server/fusion"
	"github.com/cyclopcam/firewatch/server/monitor"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

type resultJSON struct {
	Image      string                  `json:"image"`
	Width      int                     `json:"width"`
	Height     int                     `json:"height"`
	Detections []nn.Detection          `json:"detections"`
	Score      fusion.FusedScore       `json:"score"`
	Confidence int                     `json:"confidence"` // 0..100
	Level      monitor.ConfidenceLevel `json:"level"`
	DetectMS   float64                 `json:"detectMS"` // Average over all repeats
	Repeats    int                     `json:"repeats"`
}

func main() {
	parser := argparse.NewParser("predict", "Score a single image for fire, the same way the monitor scores a frame")
	input := parser.String("i", "input", &argparse.Options{Help: "Input image (JPEG or PNG)", Required: true})
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file, for detector and fusion settings", Default: ""})
	backend := parser.String("b", "backend", &argparse.Options{Help: "Detector backend (http, gocv, static). Overrides config.", Default: ""})
	url := parser.String("u", "url", &argparse.Options{Help: "Inference service URL, for the http backend. Overrides config.", Default: ""})
	annotated := parser.String("o", "output", &argparse.Options{Help: "Write the annotated frame to this JPEG file", Default: ""})
	repeat := parser.Int("r", "repeat", &argparse.Options{Help: "Run detection this many times, to benchmark the backend", Default: 1})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	cfg, err := config.LoadConfig(*configFile)
	check(err)
	cfg.ApplyEnv()
	if *backend != "" {
		cfg.Detector.Backend = nnload.Backend(*backend)
	}
	if *url != "" {
		cfg.Detector.URL = *url
	}

	raw, err := os.ReadFile(*input)
	check(err)
	img, err := camera.DecodeImage(raw)
	check(err)
	img = camera.FitWithin(img, cfg.Camera.MaxWidth, cfg.Camera.MaxHeight)

	detector, err := nnload.NewDetector(logger, cfg.DetectorConfig())
	check(err)
	defer detector.Close()
	check(detector.Load(context.Background()))

	params := cfg.MonitorConfig().Detection
	var detections []nn.Detection
	detectTime := perfstats.TimeAccumulator{}
	for i := 0; i < max(*repeat, 1); i++ {
		start := time.Now()
		detections, err = detector.DetectObjects(context.Background(), img, &params)
		check(err)
		detectTime.AddSample(time.Since(start))
	}

	engine := fusion.NewEngine(cfg.Fusion)
	score := engine.Fuse(img, detections)

	if *annotated != "" {
		jpg, err := camera.EncodeJPEG(engine.Annotate(img, detections, score), 90)
		check(err)
		check(os.WriteFile(*annotated, jpg, 0644))
	}

	percent := fusion.Percent(score.CombinedConfidence)
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	check(encoder.Encode(resultJSON{
		Image:      *input,
		Width:      img.Rect.Dx(),
		Height:     img.Rect.Dy(),
		Detections: detections,
		Score:      score,
		Confidence: percent,
		Level:      monitor.LevelOf(percent),
		DetectMS:   float64(detectTime.Average().Microseconds()) / 1000,
		Repeats:    int(detectTime.Samples),
	}))
}
