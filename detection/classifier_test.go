package detection

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"hueeye/config"
	"hueeye/pipeline"
)

var colorNames = []string{"Blue", "Green", "red", "yellow"}

type fakeNetwork struct {
	probs     []float32
	err       error
	panicWith any
	calls     int
	blobSize  []int
	closed    bool
	info      ProviderInfo
}

func (f *fakeNetwork) Forward(blob gocv.Mat) ([]float32, error) {
	f.calls++
	f.blobSize = blob.Size()
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.probs, f.err
}

func (f *fakeNetwork) Close() error {
	f.closed = true
	return nil
}

func (f *fakeNetwork) Info() ProviderInfo { return f.info }

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		probs     []float32
		threshold float64
		wantLabel string
		wantConf  float64
	}{
		{"confident green", []float32{0.02, 0.92, 0.04, 0.02}, 0.7, "Green", 0.92},
		{"low blue stays uncertain", []float32{0.55, 0.15, 0.15, 0.15}, 0.7, pipeline.LabelUncertain, 0.55},
		{"exactly at threshold", []float32{0.1, 0.1, 0.1, 0.7}, 0.7, "yellow", 0.7},
		{"zero threshold", []float32{0.26, 0.24, 0.25, 0.25}, 0, "Blue", 0.26},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.probs, colorNames, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, got.Label)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-6)
		})
	}
}

func TestDecideBelowThresholdNeverNamesAClass(t *testing.T) {
	for _, p := range []float32{0.3, 0.5, 0.69} {
		probs := []float32{p, (1 - p) / 3, (1 - p) / 3, (1 - p) / 3}
		got, err := Decide(probs, colorNames, 0.7)
		require.NoError(t, err)
		assert.Equal(t, pipeline.LabelUncertain, got.Label)
		assert.NotContains(t, colorNames, got.Label)
	}
}

func TestDecideErrors(t *testing.T) {
	_, err := Decide(nil, colorNames, 0.7)
	assert.ErrorIs(t, err, ErrEmptyOutput)

	_, err = Decide([]float32{0.1, 0.1, 0.1, 0.1, 0.9}, colorNames, 0.7)
	assert.Error(t, err)
}

func TestNewColorClassifierValidation(t *testing.T) {
	shape := InputShape{Width: 64, Height: 64, Channels: 3}

	_, err := NewColorClassifier(nil, colorNames, shape, 0.7)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	_, err = NewColorClassifier(&fakeNetwork{}, nil, shape, 0.7)
	assert.Error(t, err)

	_, err = NewColorClassifier(&fakeNetwork{}, colorNames, InputShape{}, 0.7)
	assert.Error(t, err)

	c, err := NewColorClassifier(&fakeNetwork{}, colorNames, InputShape{Width: 32, Height: 32}, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 3, c.ExpectedInputShape().Channels)
	assert.False(t, c.ExpectsGrayscale())
}

func TestColorClassifierClassify(t *testing.T) {
	net := &fakeNetwork{probs: []float32{0.02, 0.92, 0.04, 0.02}}
	c, err := NewColorClassifier(net, colorNames, InputShape{Width: 64, Height: 64, Channels: 3}, 0.7)
	require.NoError(t, err)

	region := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 255, 0, 0), 50, 50, gocv.MatTypeCV8UC3)
	defer region.Close()

	got, err := c.Classify(region)
	require.NoError(t, err)
	assert.Equal(t, Result{Label: "Green", Confidence: float64(float32(0.92))}, got)
	assert.Equal(t, 1, net.calls)
	assert.Equal(t, []int{1, 3, 64, 64}, net.blobSize)
}

func TestColorClassifierGrayscale(t *testing.T) {
	net := &fakeNetwork{probs: []float32{0.9, 0.05, 0.03, 0.02}}
	c, err := NewColorClassifier(net, colorNames, InputShape{Width: 28, Height: 28, Channels: 1}, 0.7)
	require.NoError(t, err)
	assert.True(t, c.ExpectsGrayscale())

	region := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 10, 10, 0), 40, 40, gocv.MatTypeCV8UC3)
	defer region.Close()

	got, err := c.Classify(region)
	require.NoError(t, err)
	assert.Equal(t, "Blue", got.Label)
	assert.Equal(t, []int{1, 1, 28, 28}, net.blobSize)
}

func TestColorClassifierEmptyRegion(t *testing.T) {
	net := &fakeNetwork{probs: []float32{1, 0, 0, 0}}
	c, err := NewColorClassifier(net, colorNames, InputShape{Width: 64, Height: 64, Channels: 3}, 0.7)
	require.NoError(t, err)

	empty := gocv.NewMat()
	defer empty.Close()

	got, err := c.Classify(empty)
	require.NoError(t, err)
	assert.Equal(t, Result{Label: pipeline.LabelUncertain}, got)
	assert.Zero(t, net.calls, "empty region must not reach the network")
}

func TestColorClassifierForwardError(t *testing.T) {
	boom := errors.New("cuda out of memory")
	c, err := NewColorClassifier(&fakeNetwork{err: boom}, colorNames, InputShape{Width: 8, Height: 8, Channels: 3}, 0.7)
	require.NoError(t, err)

	region := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer region.Close()

	_, err = c.Classify(region)
	assert.ErrorIs(t, err, boom)
}

func TestUnavailableClassifier(t *testing.T) {
	var c Classifier = UnavailableClassifier{}

	frame := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer frame.Close()

	for i := 0; i < 3; i++ {
		got, err := c.Classify(frame)
		require.NoError(t, err)
		assert.Equal(t, Result{Label: pipeline.LabelModelUnavailable}, got)
	}
	assert.Equal(t, InputShape{}, c.ExpectedInputShape())
}

func TestLoadClassNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.names")
	require.NoError(t, os.WriteFile(path, []byte("Blue\n Green \n\nred\nyellow\n"), 0o644))

	names, err := LoadClassNames(path)
	require.NoError(t, err)
	assert.Equal(t, colorNames, names)

	_, err = LoadClassNames(filepath.Join(t.TempDir(), "missing.names"))
	assert.Error(t, err)

	blank := filepath.Join(t.TempDir(), "blank.names")
	require.NoError(t, os.WriteFile(blank, []byte("\n\n"), 0o644))
	_, err = LoadClassNames(blank)
	assert.Error(t, err)
}

func TestLoadMissingModel(t *testing.T) {
	cfg := config.Default().Inference
	cfg.ModelPath = filepath.Join(t.TempDir(), "nope.onnx")

	_, _, err := Load(cfg)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestRegionBounds(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		size          int
		want          image.Rectangle
	}{
		{"centered patch", 640, 480, 50, image.Rect(295, 215, 345, 265)},
		{"odd size", 640, 480, 51, image.Rect(295, 215, 346, 266)},
		{"full frame when zero", 640, 480, 0, image.Rect(0, 0, 640, 480)},
		{"larger than frame", 640, 480, 1000, image.Rect(0, 0, 640, 480)},
		{"taller than frame only", 640, 480, 500, image.Rect(70, 0, 570, 480)},
		{"equal to frame", 100, 100, 100, image.Rect(0, 0, 100, 100)},
		{"empty frame", 0, 0, 50, image.Rectangle{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RegionBounds(tt.width, tt.height, tt.size)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegionBoundsCenteredAndSized(t *testing.T) {
	for _, size := range []int{2, 10, 64, 100} {
		r := RegionBounds(320, 240, size)
		assert.Equal(t, size, r.Dx())
		assert.Equal(t, size, r.Dy())
		assert.Equal(t, image.Pt(160, 120), image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2))
	}
}
