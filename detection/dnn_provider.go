package detection

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// DNNProvider runs a classifier through the OpenCV dnn module on a fixed
// backend/target pair
type DNNProvider struct {
	net  gocv.Net
	info ProviderInfo
	mu   sync.Mutex
}

// NewCPUProvider loads the model on the OpenCV CPU backend
func NewCPUProvider(files ModelFiles) (*DNNProvider, error) {
	return newDNNProvider(files, gocv.NetBackendDefault, gocv.NetTargetCPU, ProviderInfo{
		Type:    "CPU",
		Backend: "OpenCV CPU",
		Device:  "CPU",
	})
}

// NewGPUProvider loads the model on the OpenCV CUDA backend
func NewGPUProvider(files ModelFiles) (*DNNProvider, error) {
	return newDNNProvider(files, gocv.NetBackendCUDA, gocv.NetTargetCUDA, ProviderInfo{
		Type:    "GPU",
		Backend: "OpenCV CUDA",
		Device:  "NVIDIA GPU",
	})
}

func newDNNProvider(files ModelFiles, backend gocv.NetBackendType, target gocv.NetTargetType, info ProviderInfo) (*DNNProvider, error) {
	net := gocv.ReadNet(files.Weights, files.Config)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load network from %q", files.Weights)
	}

	net.SetPreferableBackend(backend)
	net.SetPreferableTarget(target)

	return &DNNProvider{net: net, info: info}, nil
}

// Forward runs the network and returns the flattened output
func (p *DNNProvider) Forward(blob gocv.Mat) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.net.SetInput(blob, "")
	output := p.net.Forward("")
	defer output.Close()

	if output.Empty() {
		return nil, ErrEmptyOutput
	}

	flat := output.Reshape(1, 1)
	defer flat.Close()

	probs := make([]float32, flat.Cols())
	for i := range probs {
		probs[i] = flat.GetFloatAt(0, i)
	}
	return probs, nil
}

// Close releases resources used by the provider
func (p *DNNProvider) Close() error {
	p.net.Close()
	return nil
}

// Info returns information about the provider
func (p *DNNProvider) Info() ProviderInfo {
	return p.info
}
