package detection

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"gocv.io/x/gocv"

	"hueeye/config"
	"hueeye/pipeline"
)

var (
	// ErrModelUnavailable is returned when the classifier model cannot be loaded
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrEmptyOutput is returned when a forward pass yields no probabilities
	ErrEmptyOutput = errors.New("classifier produced empty output")
)

// Result is one classification outcome
type Result struct {
	Label      string
	Confidence float64
}

// InputShape is the tensor shape the classifier consumes
type InputShape struct {
	Width    int
	Height   int
	Channels int
}

// Classifier maps a frame region to a color label
type Classifier interface {
	Classify(region gocv.Mat) (Result, error)
	ExpectedInputShape() InputShape
	ExpectsGrayscale() bool
}

// Decide picks the arg-max class. The label is the class name when its
// probability reaches threshold and "uncertain" otherwise; the confidence is
// always the raw arg-max probability.
func Decide(probs []float32, names []string, threshold float64) (Result, error) {
	if len(probs) == 0 {
		return Result{}, ErrEmptyOutput
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	if best >= len(names) {
		return Result{}, fmt.Errorf("class index %d outside %d known names", best, len(names))
	}

	confidence := float64(probs[best])
	if confidence >= threshold {
		return Result{Label: names[best], Confidence: confidence}, nil
	}
	return Result{Label: pipeline.LabelUncertain, Confidence: confidence}, nil
}

// ColorClassifier adapts a loaded Network to the Classifier capability
type ColorClassifier struct {
	net       Network
	names     []string
	shape     InputShape
	threshold float64
}

// NewColorClassifier wraps net. The class names must match the network output order.
func NewColorClassifier(net Network, names []string, shape InputShape, threshold float64) (*ColorClassifier, error) {
	if net == nil {
		return nil, ErrModelUnavailable
	}
	if len(names) == 0 {
		return nil, errors.New("no class names")
	}
	if shape.Width <= 0 || shape.Height <= 0 {
		return nil, fmt.Errorf("invalid input shape %dx%d", shape.Width, shape.Height)
	}
	if shape.Channels != 1 {
		shape.Channels = 3
	}
	return &ColorClassifier{net: net, names: names, shape: shape, threshold: threshold}, nil
}

// Classify resizes, normalizes and runs the region through the network.
// An empty region is "uncertain" without a forward pass.
func (c *ColorClassifier) Classify(region gocv.Mat) (Result, error) {
	if region.Empty() || region.Cols() == 0 || region.Rows() == 0 {
		return Result{Label: pipeline.LabelUncertain}, nil
	}

	size := image.Pt(c.shape.Width, c.shape.Height)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(region, &resized, size, 0, 0, gocv.InterpolationLinear)

	input := resized
	if c.ExpectsGrayscale() && resized.Channels() > 1 {
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)
		input = gray
	}

	// 1/255 scaling normalizes to [0,1]; channels stay in BGR order
	blob := gocv.BlobFromImage(input, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	probs, err := c.net.Forward(blob)
	if err != nil {
		return Result{}, fmt.Errorf("forward pass: %w", err)
	}
	return Decide(probs, c.names, c.threshold)
}

// ExpectedInputShape returns the model input shape
func (c *ColorClassifier) ExpectedInputShape() InputShape { return c.shape }

// ExpectsGrayscale reports whether the model takes one channel
func (c *ColorClassifier) ExpectsGrayscale() bool { return c.shape.Channels == 1 }

// Names returns the class names in output order
func (c *ColorClassifier) Names() []string { return c.names }

// Close releases the underlying network
func (c *ColorClassifier) Close() error { return c.net.Close() }

// UnavailableClassifier stands in when the model failed to load. Every call
// reports "model unavailable" without touching the region.
type UnavailableClassifier struct{}

// Classify always returns the model unavailable label
func (UnavailableClassifier) Classify(gocv.Mat) (Result, error) {
	return Result{Label: pipeline.LabelModelUnavailable}, nil
}

// ExpectedInputShape is empty for a missing model
func (UnavailableClassifier) ExpectedInputShape() InputShape { return InputShape{} }

// ExpectsGrayscale is false for a missing model
func (UnavailableClassifier) ExpectsGrayscale() bool { return false }

// LoadClassNames reads one class name per line, skipping blank lines
func LoadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read class names: %w", err)
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no class names in %s", path)
	}
	return names, nil
}

// Load builds a ColorClassifier from the inference configuration. The
// returned manager owns the network and reports which backend is in use.
func Load(cfg config.InferenceConfig) (*ColorClassifier, *ProviderManager, error) {
	names := cfg.ClassNames
	if cfg.NamesPath != "" {
		var err error
		if names, err = LoadClassNames(cfg.NamesPath); err != nil {
			return nil, nil, err
		}
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	shape := InputShape{Width: cfg.InputWidth, Height: cfg.InputHeight, Channels: cfg.InputChannels}
	pm := NewProviderManager()
	if err := pm.Initialize(ModelFiles{Weights: cfg.ModelPath, Config: cfg.ConfigPath}, cfg.Backend, shape); err != nil {
		return nil, nil, err
	}

	classifier, err := NewColorClassifier(pm.Network(), names, shape, cfg.Threshold)
	if err != nil {
		pm.Close()
		return nil, nil, err
	}
	return classifier, pm, nil
}
