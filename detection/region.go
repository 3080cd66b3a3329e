package detection

import "image"

// RegionBounds returns the classification region for a width x height frame.
// A size of zero or less selects the full frame. Otherwise the region is a
// size x size square centered on (width/2, height/2); a region larger than
// the frame collapses to the frame in that dimension.
func RegionBounds(width, height, size int) image.Rectangle {
	frame := image.Rect(0, 0, max(width, 0), max(height, 0))
	if frame.Empty() {
		return image.Rectangle{}
	}
	if size <= 0 {
		return frame
	}

	cx, cy := width/2, height/2
	half := size / 2
	r := image.Rect(cx-half, cy-half, cx-half+size, cy-half+size)

	// clamp each axis symmetrically instead of shifting the square
	if size >= width {
		r.Min.X, r.Max.X = 0, width
	}
	if size >= height {
		r.Min.Y, r.Max.Y = 0, height
	}

	return r.Intersect(frame)
}
