package overlay

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"hueeye/pipeline"
)

func TestAnnotateDrawsCrosshairAndRegion(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()

	region := image.Rect(295, 215, 345, 265)
	NewAnnotator(0.7).Annotate(&img, region, pipeline.Reading{Label: "Green", Confidence: 0.92})

	// crosshair center is pure green (BGR)
	assert.Equal(t, gocv.Vecb{0, 255, 0}, img.GetVecbAt(240, 320))
	// region outline is white
	assert.Equal(t, gocv.Vecb{255, 255, 255}, img.GetVecbAt(region.Min.Y, region.Min.X+10))
	// a corner far from every overlay stays untouched
	assert.Equal(t, gocv.Vecb{0, 0, 0}, img.GetVecbAt(470, 5))
}

func TestAnnotateSkipsFullFrameRegion(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	NewAnnotator(0.7).Annotate(&img, image.Rect(0, 0, 100, 100), pipeline.Reading{Label: pipeline.LabelUncertain})

	assert.Equal(t, gocv.Vecb{0, 0, 0}, img.GetVecbAt(0, 50), "no border drawn for a full-frame region")
}

func TestAnnotateEmptyFrame(t *testing.T) {
	img := gocv.NewMat()
	defer img.Close()

	assert.NotPanics(t, func() {
		NewAnnotator(0.7).Annotate(&img, image.Rectangle{}, pipeline.Reading{Label: pipeline.LabelError})
	})
}

func TestDemoFrame(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	frame := DemoFrame(640, 480, now)
	defer frame.Close()

	require.False(t, frame.Empty())
	assert.Equal(t, 640, frame.Cols())
	assert.Equal(t, 480, frame.Rows())
	assert.Equal(t, 3, frame.Channels())

	later := DemoFrame(640, 480, now.Add(time.Second))
	defer later.Close()
	assert.NotEqual(t, frame.GetVecbAt(0, 0), later.GetVecbAt(0, 0), "background cycles over time")
}
