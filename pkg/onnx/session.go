package onnx

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// input names of the exported counting model
const (
	InputSamples  = "samples"
	InputBoxes    = "boxes"
	InputNumShots = "num_shots"
)

// Options configures how a model is loaded
type Options struct {
	// LibraryPath is the onnxruntime shared library, empty uses DefaultLibraryPath
	LibraryPath string
	// UseCUDA appends the CUDA execution provider ahead of the CPU provider
	UseCUDA bool
	// CUDADeviceID selects the GPU when UseCUDA is set
	CUDADeviceID int
	// IntraOpThreads limits the threads one inference uses, 0 leaves the
	// runtime default
	IntraOpThreads int
	// OutputName is the density output to read; empty picks the model's
	// first output
	OutputName string
	// TileSize is the square window the model consumes and emits
	TileSize int
	// ExemplarSize is the side length of each exemplar crop
	ExemplarSize int
}

// Session is one loaded copy of the model. A Session is not safe for
// concurrent use; share it through a Pool.
type Session struct {
	session *ort.DynamicAdvancedSession
	opts    Options
}

// NewSession loads the model file
func NewSession(modelPath string, opts Options) (*Session, error) {
	if err := InitializeEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	outputName := opts.OutputName
	if outputName == "" {
		_, outputs, err := ort.GetInputOutputInfo(modelPath)
		if err != nil {
			return nil, errors.Wrapf(err, "reading model io info from %s", modelPath)
		}
		if len(outputs) == 0 {
			return nil, errors.Errorf("model %s declares no outputs", modelPath)
		}
		outputName = outputs[0].Name
	}

	sessionOpts, err := newSessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer sessionOpts.Destroy()

	s, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{InputSamples, InputBoxes, InputNumShots},
		[]string{outputName},
		sessionOpts,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "creating session for %s", modelPath)
	}

	return &Session{session: s, opts: opts}, nil
}

func newSessionOptions(opts Options) (*ort.SessionOptions, error) {
	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating session options")
	}

	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, multierr.Append(errors.Wrap(err, "setting intra-op threads"), sessionOpts.Destroy())
		}
	}

	if opts.UseCUDA {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, multierr.Append(errors.Wrap(err, "creating CUDA options"), sessionOpts.Destroy())
		}
		defer cudaOpts.Destroy()

		err = cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(opts.CUDADeviceID)})
		if err == nil {
			err = sessionOpts.AppendExecutionProviderCUDA(cudaOpts)
		}
		if err != nil {
			return nil, multierr.Append(errors.Wrap(err, "enabling CUDA provider"), sessionOpts.Destroy())
		}
	}

	return sessionOpts, nil
}

// Infer runs one window through the model
func (s *Session) Infer(_ context.Context, window, exemplars []float32, numExemplars int) (out []float32, err error) {
	tile, ex := int64(s.opts.TileSize), int64(s.opts.ExemplarSize)

	samples, err := ort.NewTensor(ort.NewShape(1, 3, tile, tile), window)
	if err != nil {
		return nil, errors.Wrap(err, "creating samples tensor")
	}
	defer func() { err = multierr.Append(err, samples.Destroy()) }()

	boxes, err := ort.NewTensor(ort.NewShape(1, int64(numExemplars), 3, ex, ex), exemplars)
	if err != nil {
		return nil, errors.Wrap(err, "creating boxes tensor")
	}
	defer func() { err = multierr.Append(err, boxes.Destroy()) }()

	shots, err := ort.NewTensor(ort.NewShape(1), []int64{int64(numExemplars)})
	if err != nil {
		return nil, errors.Wrap(err, "creating num_shots tensor")
	}
	defer func() { err = multierr.Append(err, shots.Destroy()) }()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, tile, tile))
	if err != nil {
		return nil, errors.Wrap(err, "creating output tensor")
	}
	defer func() { err = multierr.Append(err, output.Destroy()) }()

	if err := s.session.Run([]ort.Value{samples, boxes, shots}, []ort.Value{output}); err != nil {
		return nil, errors.Wrap(err, "running session")
	}

	// the tensor's backing memory goes away with Destroy
	data := output.GetData()
	out = make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Close releases the session
func (s *Session) Close() error {
	return s.session.Destroy()
}
