package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/capture"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/config"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/detector"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/logger"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/metrics"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/pipeline"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/webmonitor"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/webrtc"
)

// Server wires the detection model, the live feed transports and the dashboard.
type Server struct {
	cfg        *config.Config
	ctx        context.Context
	cancel     context.CancelFunc
	metrics    *metrics.Metrics
	model      *detector.Handle
	monitor    *webmonitor.Server
	webrtc     *webrtc.Server
	camera     *capture.Camera
	pipeline   *pipeline.Pipeline
	httpServer *http.Server
	logFile    io.Closer
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}

	var logFile io.WriteCloser
	if cfg.LogFile != "" {
		logFile = logger.RotatingFile(cfg.LogFile)
		logger.InitWithFile(level, os.Stderr, cfg.LogColor, logFile)
	} else {
		logger.Init(level, os.Stderr, cfg.LogColor)
	}

	logger.Info("Main", "SDDS streaming server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		logger.Error("Main", "Failed to create server: %v", err)
		os.Exit(1)
	}
	if logFile != nil {
		srv.logFile = logFile
	}

	if err := srv.Start(); err != nil {
		logger.Error("Main", "Failed to start server: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// NewServer loads the model and builds every component. A model that fails
// to load leaves the server running with detection disabled.
func NewServer(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()

	opts := detector.DefaultOptions()
	opts.ConfigPath = cfg.ModelConfigPath
	opts.LabelsPath = cfg.LabelsPath
	opts.InputSize = cfg.InputSize
	opts.NMSThreshold = cfg.NMSThreshold
	model := detector.NewHandle(cfg.ModelPath, opts)

	processor, loadErr := model.Processor(
		annotate.WithInferenceThreshold(cfg.InferenceThreshold),
		annotate.WithBudget(time.Second/time.Duration(cfg.TargetFPS)),
	)
	notice := ""
	if loadErr != nil {
		notice = loadErr.Error()
		var le *detector.LoadError
		if errors.As(loadErr, &le) {
			notice = le.Notice()
		}
		logger.Error("Model", "%s", notice)
	} else {
		logger.Info("Model", "Loaded %s (threshold %.2f)", cfg.ModelPath, cfg.InferenceThreshold)
	}
	m.SetModelLoaded(loadErr == nil)

	stage := pipeline.NewStage(processor, m, cfg.JPEGQuality)

	wmCfg := webmonitor.DefaultConfig()
	wmCfg.CameraName = cfg.CameraName
	wmCfg.STUNServers = cfg.STUNServers
	wmCfg.TargetFPS = cfg.TargetFPS
	wmCfg.InferenceThreshold = cfg.InferenceThreshold
	wmCfg.DisplayThreshold = cfg.DisplayThreshold
	monitor := webmonitor.NewServer(wmCfg, nil)
	monitor.Monitor().SetModelStatus(processor.State(), notice)

	rtc := webrtc.NewServer(cfg.STUNServers, cfg.MaxClients, stage, m, monitor)
	rtc.SetCameraName(cfg.CameraName)
	monitor.SetOfferHandler(rtc)

	srv := &Server{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
		model:   model,
		monitor: monitor,
		webrtc:  rtc,
		httpServer: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: monitor.Handler(),
		},
	}

	if cfg.CameraSource != "" {
		camera, err := capture.OpenCamera(cfg.CameraSource)
		if err != nil {
			cancel()
			_ = rtc.Close()
			monitor.Close()
			_ = model.Close()
			return nil, fmt.Errorf("camera %q: %w", cfg.CameraSource, err)
		}
		srv.camera = camera
		srv.pipeline = pipeline.New(camera, stage, cfg.CameraName, cfg.TargetFPS, monitor)
	}

	return srv, nil
}

// Start starts all server components.
func (s *Server) Start() error {
	logger.Info("Main", "Starting streaming server...")
	logger.Info("Main", "  HTTP server: %s", s.cfg.HTTPAddr)
	logger.Info("Main", "  Metrics server: %s", s.cfg.MetricsAddr)
	if s.camera != nil {
		logger.Info("Main", "  Camera: %s (%q)", s.camera.Source(), s.cfg.CameraName)
	} else {
		logger.Info("Main", "  Camera: browser only")
	}

	go func() {
		logger.Info("Metrics", "Starting metrics server on %s", s.cfg.MetricsAddr)
		if err := s.metrics.StartServer(s.cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics", "Metrics server error: %v", err)
		}
	}()

	go func() {
		logger.Info("HTTP", "Starting HTTP server on %s", s.cfg.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP", "HTTP server error: %v", err)
		}
	}()

	if s.pipeline != nil {
		s.pipeline.Start(s.ctx)
	}

	logger.Info("Main", "Server started successfully")
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.cancel()
	if s.pipeline != nil {
		s.pipeline.Wait()
	}

	if err := s.webrtc.Close(); err != nil {
		logger.Warn("Main", "Close WebRTC: %v", err)
	}
	s.monitor.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	if s.camera != nil {
		_ = s.camera.Close()
	}
	if cerr := s.model.Close(); cerr != nil {
		logger.Warn("Main", "Close model: %v", cerr)
	}
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
	return err
}
