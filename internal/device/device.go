// Package device selects the compute context inference runs on.
package device

import (
	"fmt"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// Kind is the compute context chosen once at startup.
type Kind int

const (
	Fallback Kind = iota
	Accelerated
)

func (k Kind) String() string {
	switch k {
	case Accelerated:
		return "cuda"
	default:
		return "cpu"
	}
}

// Probe reports whether the loaded ONNX Runtime can run on a CUDA device.
// The runtime environment must already be initialized. Any failure while
// setting up the CUDA provider is treated as "not available".
func Probe(forceCPU bool) Kind {
	if forceCPU {
		log.Info().Msg("CPU forced by configuration, skipping accelerator probe")
		return Fallback
	}
	opts, err := newCUDASessionOptions()
	if err != nil {
		log.Info().Err(err).Msg("CUDA execution provider unavailable, falling back to CPU")
		return Fallback
	}
	opts.Destroy()
	return Accelerated
}

// SessionOptions builds the session options matching the kind. The caller
// owns the returned options and must destroy them.
func (k Kind) SessionOptions() (*ort.SessionOptions, error) {
	if k == Accelerated {
		return newCUDASessionOptions()
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	return opts, nil
}

func newCUDASessionOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
	}
	defer cudaOpts.Destroy()

	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to append CUDA provider: %w", err)
	}
	return opts, nil
}
