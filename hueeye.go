package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hueeye/capture"
	"hueeye/config"
	"hueeye/detection"
	"hueeye/emitter"
	"hueeye/logging"
	"hueeye/overlay"
	"hueeye/pipeline"
	"hueeye/server"
	"hueeye/stream"
)

const (
	perfReportInterval = 15 * time.Second // Performance reporting interval
	frameStallTimeout  = 5 * time.Second  // no new frame for this long marks the pipeline stalled
)

var (
	configPath = flag.String("config", "", "YAML configuration file (optional, built-in defaults otherwise)")
	cameraIdx  = flag.Int("camera", 0, "Camera device index")
	modelPath  = flag.String("model", "", "Color classifier model file\n\t\tExample: -model=color_classifier.onnx")
	demoMode   = flag.Bool("demo", false, "Run without a camera using synthetic frames")
	interval   = flag.Duration("interval", 0, "Minimum time between classifications\n\t\tExample: -interval=250ms")
	threshold  = flag.Float64("threshold", 0, "Confidence threshold (0.0-1.0) below which the label is 'uncertain'")
	regionSize = flag.Int("region", 0, "Edge in pixels of the centered classification region, 0 classifies the full frame")
	quality    = flag.Int("quality", 0, "JPEG quality of the video feed (1-100)")
	port       = flag.Int("port", 0, "HTTP listen port (overrides PORT)")
	debugMode  = flag.Bool("debug", false, "Enable debug logging, including one line per HTTP request")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration Error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	log := logging.Component("MAIN")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("hueeye stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("hueeye stopped")
}

// loadConfig layers the file, the environment and explicitly set flags, in
// that order, over the defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camera":
			cfg.Camera.Index = *cameraIdx
		case "model":
			cfg.Inference.ModelPath = *modelPath
		case "demo":
			if *demoMode {
				cfg.Mode = config.ModeDemo
			}
		case "interval":
			cfg.Inference.Interval = *interval
		case "threshold":
			cfg.Inference.Threshold = *threshold
		case "region":
			cfg.Inference.RegionSize = *regionSize
		case "quality":
			cfg.Stream.JPEGQuality = *quality
		case "port":
			cfg.Server.Addr = fmt.Sprintf(":%d", *port)
		case "debug":
			if *debugMode {
				cfg.Log.Level = "debug"
			}
		}
	})

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("instance_id", cfg.InstanceID).
		Str("mode", cfg.Mode).
		Str("addr", cfg.Server.Addr).
		Msg("starting hueeye")

	// Classifier first: a missing model degrades the service, it never stops it
	var (
		classifier detection.Classifier = detection.UnavailableClassifier{}
		provider   detection.ProviderInfo
	)
	colorClassifier, pm, err := detection.Load(cfg.Inference)
	if err != nil {
		log.Warn().Err(err).Str("model", cfg.Inference.ModelPath).Msg("color classifier unavailable, continuing without inference")
	} else {
		defer pm.Close()
		classifier = colorClassifier
		provider = pm.GetProviderInfo()
		log.Info().
			Str("provider", provider.Type).
			Str("backend", provider.Backend).
			Strs("classes", colorClassifier.Names()).
			Msg("color classifier loaded")
	}

	initialLabel := pipeline.LabelUncertain
	if err != nil {
		initialLabel = pipeline.LabelModelUnavailable
	}
	state := pipeline.NewState(cfg.Inference.QueueSize, initialLabel)
	state.Status.SetModelLoaded(err == nil)

	device, err := openDevice(ctx, cfg, log)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		log.Error().Err(err).Msg("no capture device, serving placeholder frames")
	} else {
		defer device.Close()
		state.Status.SetCaptureActive(cfg.Mode == config.ModeCamera)
	}

	streams, err := stream.NewMultiplexer(state.Frames, cfg.SampleInterval(), cfg.Camera.Width, cfg.Camera.Height)
	if err != nil {
		return fmt.Errorf("failed to create stream multiplexer: %w", err)
	}

	monitor := pipeline.NewHealthMonitor(state, frameStallTimeout, 10*cfg.Inference.Interval+frameStallTimeout, logging.Component("HEALTH"))
	srv := server.New(cfg, state, streams, provider)
	srv.SetMonitor(monitor)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("worker", name).Msg("worker stopped")
				cancel()
			}
		}()
	}

	if device != nil {
		source := capture.NewSource(device, state, overlay.NewAnnotator(cfg.Inference.Threshold), capture.Options{
			Mirror:        cfg.Mode == config.ModeCamera,
			RegionSize:    cfg.Inference.RegionSize,
			JPEGQuality:   cfg.Stream.JPEGQuality,
			FrameInterval: cfg.FrameInterval(),
			ReadBackoff:   cfg.Camera.ReadBackoff,
		})
		start("capture", source.Run)
	}

	gate := detection.NewGate(classifier, state, detection.GateOptions{
		Interval:  cfg.Inference.Interval,
		QueueWait: cfg.Inference.QueueWait,
	})
	start("inference", gate.Run)
	start("health", monitor.Run)
	start("perf", func(ctx context.Context) error {
		return reportPerformance(ctx, state)
	})

	if cfg.MQTT.Enabled {
		mqttEmitter := emitter.NewMQTTEmitter(cfg.MQTT, cfg.InstanceID)
		if err := mqttEmitter.Connect(ctx); err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT unavailable, labels will not be published")
		} else {
			defer mqttEmitter.Disconnect()
			start("mqtt", func(ctx context.Context) error {
				return mqttEmitter.Run(ctx, state.Labels)
			})
		}
	}

	serverErr := srv.Run(ctx)
	cancel()
	wg.Wait()
	return serverErr
}

// openDevice returns the synthetic device in demo mode and the configured
// camera otherwise
func openDevice(ctx context.Context, cfg *config.Config, log zerolog.Logger) (capture.Device, error) {
	if cfg.Mode == config.ModeDemo {
		log.Info().Int("width", cfg.Camera.Width).Int("height", cfg.Camera.Height).Msg("demo mode, using synthetic frames")
		return capture.NewDemoDevice(cfg.Camera.Width, cfg.Camera.Height), nil
	}
	cam, err := capture.OpenCamera(ctx, cfg.Camera, logging.Component("CAPTURE"))
	if err != nil {
		return nil, err
	}
	return cam, nil
}

// reportPerformance logs pipeline rates every perfReportInterval
func reportPerformance(ctx context.Context, state *pipeline.State) error {
	log := logging.Component("PERF")
	ticker := time.NewTicker(perfReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r := state.Stats.Report()
			totals := state.Stats.Totals()
			log.Info().
				Dur("window", r.Window.Round(time.Second)).
				Float64("capture_fps", r.CaptureFPS).
				Float64("inference_fps", r.InferenceFPS).
				Dur("avg_read", r.AvgRead).
				Dur("avg_encode", r.AvgEncode).
				Dur("avg_inference", r.AvgInference).
				Msg("pipeline performance")
			log.Info().
				Int("queue_len", state.Queue.Len()).
				Uint64("queue_dropped", state.Queue.Dropped()).
				Uint64("throttled", totals.Throttled).
				Uint64("read_failures", totals.ReadFailures).
				Uint64("inference_errors", totals.InferenceErrors).
				Msg("pipeline counters")
		}
	}
}
