// Package onnx runs the density model with ONNX Runtime. Sessions are kept in
// a fixed size pool; with the default size of one every inference call is
// serialized.
package onnx

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// InitializeEnvironment loads the ONNX Runtime shared library and creates the
// process wide environment. Only the first call has any effect; later calls
// return the first call's error.
func InitializeEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath == "" {
			libraryPath = DefaultLibraryPath()
		}
		ort.SetSharedLibraryPath(libraryPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrapf(err, "initializing onnxruntime from %s", libraryPath)
		}
	})
	return envErr
}

// DefaultLibraryPath returns the conventional onnxruntime shared library name
// for the running platform
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
