package model

import (
	"fmt"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// InitRuntime loads the ONNX Runtime shared library and initializes its
// environment. An empty libPath keeps the library's default lookup.
func InitRuntime(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	log.Debug().Str("library", libPath).Msg("ONNX Runtime initialized")
	return nil
}

// ShutdownRuntime releases the environment created by InitRuntime.
func ShutdownRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		log.Error().Err(err).Msg("failed to destroy ONNX environment")
	}
}
