package detection

import (
	"fmt"
	"image"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"hueeye/config"
	"hueeye/logging"
)

// Network runs a single forward pass over a prepared input blob and returns
// the flattened output, normally one probability per class
type Network interface {
	Forward(blob gocv.Mat) ([]float32, error)
	Close() error
	Info() ProviderInfo
}

// ProviderInfo contains information about the inference provider
type ProviderInfo struct {
	Type     string        `json:"type"`    // "GPU" or "CPU"
	Backend  string        `json:"backend"` // "OpenCV CUDA", "OpenCV CPU"
	Device   string        `json:"device"`
	InitTime time.Duration `json:"init_time"`
}

// ModelFiles names the artifacts a provider loads
type ModelFiles struct {
	Weights string
	Config  string // optional, framework dependent
}

// ProviderManager handles provider selection and the GPU to CPU fallback
type ProviderManager struct {
	current      Network
	providerInfo ProviderInfo
	log          zerolog.Logger

	// overridable in tests
	gpuAvailable func() bool
	newGPU       func(ModelFiles) (Network, error)
	newCPU       func(ModelFiles) (Network, error)
}

// NewProviderManager creates a new provider manager with auto-detection
func NewProviderManager() *ProviderManager {
	return &ProviderManager{
		log:          logging.Component("PROVIDER"),
		gpuAvailable: hasGPUCapability,
		newGPU:       func(m ModelFiles) (Network, error) { return NewGPUProvider(m) },
		newCPU:       func(m ModelFiles) (Network, error) { return NewCPUProvider(m) },
	}
}

// Initialize loads the model on the requested backend. "auto" tries the GPU
// first and falls back to the CPU when CUDA is missing or a probe inference
// fails.
func (pm *ProviderManager) Initialize(files ModelFiles, backend string, probe InputShape) error {
	if backend != config.BackendCPU {
		if backend == config.BackendCUDA || pm.gpuAvailable() {
			pm.log.Info().Msg("GPU capability detected, attempting GPU initialization")

			startTime := time.Now()
			gpu, err := pm.newGPU(files)
			if err == nil {
				if testProvider(gpu, probe) {
					pm.use(gpu, time.Since(startTime))
					return nil
				}
				pm.log.Warn().Msg("GPU test inference failed, falling back to CPU")
				gpu.Close()
			} else {
				pm.log.Warn().Err(err).Msg("GPU initialization failed, falling back to CPU")
			}
		} else {
			pm.log.Info().Msg("no GPU capability detected")
		}
	}

	startTime := time.Now()
	cpu, err := pm.newCPU(files)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	pm.use(cpu, time.Since(startTime))
	return nil
}

func (pm *ProviderManager) use(n Network, initTime time.Duration) {
	pm.current = n
	pm.providerInfo = n.Info()
	pm.providerInfo.InitTime = initTime
	pm.log.Info().
		Str("type", pm.providerInfo.Type).
		Str("backend", pm.providerInfo.Backend).
		Dur("init_time", initTime).
		Msg("inference provider ready")
}

// Network returns the active provider, nil before a successful Initialize
func (pm *ProviderManager) Network() Network {
	return pm.current
}

// GetProviderInfo returns information about the current provider
func (pm *ProviderManager) GetProviderInfo() ProviderInfo {
	return pm.providerInfo
}

// Close closes the current provider
func (pm *ProviderManager) Close() error {
	if pm.current != nil {
		return pm.current.Close()
	}
	return nil
}

// hasGPUCapability checks if GPU inference is possible
func hasGPUCapability() bool {
	if !hasNVIDIAGPU() {
		return false
	}
	// CUDA itself is tested by the probe inference during initialization
	return hasNVIDIADriver()
}

// hasNVIDIAGPU checks if NVIDIA GPU is present
func hasNVIDIAGPU() bool {
	output, err := exec.Command("lspci").Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "nvidia")
}

// hasNVIDIADriver checks if NVIDIA drivers are loaded
func hasNVIDIADriver() bool {
	cmd := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	if err := cmd.Run(); err != nil {
		return false
	}

	matches, _ := filepath.Glob("/dev/nvidia*")
	return len(matches) > 0
}

// testProvider performs a quick inference on a blank input to verify the provider works
func testProvider(n Network, shape InputShape) bool {
	if shape.Width <= 0 || shape.Height <= 0 {
		return true
	}
	matType := gocv.MatTypeCV8UC3
	if shape.Channels == 1 {
		matType = gocv.MatTypeCV8UC1
	}
	size := image.Pt(shape.Width, shape.Height)
	testFrame := gocv.NewMatWithSize(shape.Height, shape.Width, matType)
	defer testFrame.Close()

	blob := gocv.BlobFromImage(testFrame, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	_, err := n.Forward(blob)
	return err == nil
}
