package capture

import (
	"fmt"

	"gocv.io/x/gocv"
)

// encodeJPEG compresses img. The returned slice is owned by the caller and
// outlives the native buffer.
func encodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	if img.Empty() {
		return nil, fmt.Errorf("encode jpeg: empty frame")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	native := buf.GetBytes()
	data := make([]byte, len(native))
	copy(data, native)
	return data, nil
}
