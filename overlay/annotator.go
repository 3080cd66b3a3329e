// Package overlay draws operator guidance onto display frames. Nothing drawn
// here reaches the classifier.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"gocv.io/x/gocv"

	"hueeye/pipeline"
)

// Annotator draws the crosshair, the classification region and the current
// label on display frames
type Annotator struct {
	threshold      float64
	crosshairSize  int
	circleRadius   int
	guideColor     color.RGBA
	regionColor    color.RGBA
	confidentColor color.RGBA
	uncertainColor color.RGBA
}

// NewAnnotator creates an annotator. Labels at or above threshold are drawn
// green, the rest orange.
func NewAnnotator(threshold float64) *Annotator {
	return &Annotator{
		threshold:      threshold,
		crosshairSize:  30,
		circleRadius:   15,
		guideColor:     color.RGBA{R: 0x00, G: 0xff, B: 0x00, A: 0},
		regionColor:    color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0},
		confidentColor: color.RGBA{R: 0x00, G: 0xff, B: 0x00, A: 0},
		uncertainColor: color.RGBA{R: 0xff, G: 0xa5, B: 0x00, A: 0},
	}
}

// Annotate draws onto img in place. region is skipped when it covers the
// whole frame.
func (a *Annotator) Annotate(img *gocv.Mat, region image.Rectangle, reading pipeline.Reading) {
	if img.Empty() {
		return
	}
	width, height := img.Cols(), img.Rows()
	center := image.Pt(width/2, height/2)

	if !region.Empty() && region != image.Rect(0, 0, width, height) {
		gocv.Rectangle(img, region, a.regionColor, 2)
	}

	a.drawCrosshair(img, center)
	a.drawLabel(img, reading, image.Pt(max(width-150, 10), 30))
}

// drawCrosshair draws a plus sign and a ring at the frame center
func (a *Annotator) drawCrosshair(img *gocv.Mat, center image.Point) {
	size := a.crosshairSize

	// Horizontal line
	gocv.Line(img,
		image.Point{center.X - size, center.Y},
		image.Point{center.X + size, center.Y},
		a.guideColor, 2)

	// Vertical line
	gocv.Line(img,
		image.Point{center.X, center.Y - size},
		image.Point{center.X, center.Y + size},
		a.guideColor, 2)

	gocv.Circle(img, center, a.circleRadius, a.guideColor, 2)
}

func (a *Annotator) drawLabel(img *gocv.Mat, reading pipeline.Reading, pos image.Point) {
	textColor := a.uncertainColor
	if reading.Confidence >= a.threshold && reading.Confidence > 0 {
		textColor = a.confidentColor
	}

	gocv.PutText(img, reading.Label, pos, gocv.FontHersheySimplex, 0.8, textColor, 2)
	if reading.Confidence > 0 {
		detail := fmt.Sprintf("%.0f%%", reading.Confidence*100)
		gocv.PutText(img, detail, image.Point{pos.X, pos.Y + 25}, gocv.FontHersheySimplex, 0.5, textColor, 1)
	}
}

// DemoFrame renders a synthetic frame whose background cycles through colors
// over time. The caller owns the returned Mat.
func DemoFrame(width, height int, t time.Time) gocv.Mat {
	seconds := float64(t.UnixNano()) / float64(time.Second)
	var bgr [3]float64
	for i := range bgr {
		bgr[i] = math.Mod(seconds*50+float64(i)*85, 255)
	}

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(bgr[0], bgr[1], bgr[2], 0), height, width, gocv.MatTypeCV8UC3)

	white := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0}
	gocv.PutText(&frame, "DEMO MODE", image.Pt(width/2-80, height/2-90), gocv.FontHersheySimplex, 1, white, 2)
	gocv.PutText(&frame, "Camera not available", image.Pt(width/2-130, height/2-40), gocv.FontHersheySimplex, 0.7, white, 2)

	return frame
}
