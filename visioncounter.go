// Package visioncounter counts the objects in an image that look like a few
// example boxes drawn around instances of them.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		visioncounter "github.com/tamnguyenvan/vision-counter"
//		"github.com/tamnguyenvan/vision-counter/pkg/types"
//	)
//
//	func main() {
//		ctx := context.Background()
//
//		// Download (once) and load the default model
//		counter, err := visioncounter.New(ctx, visioncounter.Options{})
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer counter.Close()
//
//		boxes := []types.ExemplarBox{
//			{X1: 120, Y1: 80, X2: 170, Y2: 130},
//			{X1: 400, Y1: 210, X2: 452, Y2: 262},
//		}
//		n, err := counter.CountFile(ctx, "apples.jpg", boxes)
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("%d apples\n", n)
//	}
//
// The image is resized to a height of 384 pixels, the density model is slid
// across it in overlapping 384 pixel windows, and the stitched density map is
// summed and calibrated against the exemplar regions.
package visioncounter

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/tamnguyenvan/vision-counter/pkg/estimator"
	"github.com/tamnguyenvan/vision-counter/pkg/hub"
	"github.com/tamnguyenvan/vision-counter/pkg/onnx"
	"github.com/tamnguyenvan/vision-counter/pkg/preprocess"
	"github.com/tamnguyenvan/vision-counter/pkg/processing"
	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

// Version of the vision counter library
const Version = "0.1.0"

// Options configures New
type Options struct {
	// ModelLocation is a local path or an http(s) URL; empty means
	// hub.DefaultWeightsURL
	ModelLocation string
	// CacheDir receives downloaded weights; empty means hub.DefaultCacheDir
	CacheDir string
	// LibraryPath is the onnxruntime shared library
	LibraryPath string
	// UseCUDA prefers the GPU when available
	UseCUDA      bool
	CUDADeviceID int
	// IntraOpThreads caps threads per inference, 0 keeps the runtime default
	IntraOpThreads int
	// PoolSize is how many model copies may run at once, 0 means 1
	PoolSize int
	// OutputName overrides the density output discovered from the model
	OutputName string
	// Logger receives progress logs; nil discards them
	Logger *zap.Logger
}

// Counter counts objects matching exemplar boxes. It is safe for concurrent
// use; inference is serialized unless the pool is larger than one.
type Counter struct {
	pre    *preprocess.Preprocessor
	est    *estimator.Estimator
	proc   *processing.Processor
	closer io.Closer
	logger *zap.SugaredLogger
}

// New resolves the model weights, downloading them on first use, and loads
// them into ONNX Runtime
func New(ctx context.Context, opts Options) (*Counter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := hub.NewFetcher(opts.CacheDir, logger).Resolve(ctx, opts.ModelLocation)
	if err != nil {
		return nil, err
	}

	size := opts.PoolSize
	if size < 1 {
		size = 1
	}

	start := time.Now()
	pool, err := onnx.OpenPool(path, size, onnx.Options{
		LibraryPath:    opts.LibraryPath,
		UseCUDA:        opts.UseCUDA,
		CUDADeviceID:   opts.CUDADeviceID,
		IntraOpThreads: opts.IntraOpThreads,
		OutputName:     opts.OutputName,
		TileSize:       estimator.WindowSize,
		ExemplarSize:   preprocess.ExemplarSize,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrModelLoad, err)
	}
	logger.Sugar().Infow("model loaded",
		"path", path,
		"pool_size", size,
		"cuda", opts.UseCUDA,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return NewWithModel(pool, logger), nil
}

// NewWithModel builds a Counter over an already loaded model. If model is an
// io.Closer, Close closes it.
func NewWithModel(model estimator.Model, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Counter{
		pre:    preprocess.New(),
		est:    estimator.New(model, logger),
		proc:   processing.NewProcessor(),
		logger: logger.Sugar(),
	}
	if cl, ok := model.(io.Closer); ok {
		c.closer = cl
	}
	return c
}

// Estimate runs the full pipeline and returns the density map alongside the
// count
func (c *Counter) Estimate(ctx context.Context, img image.Image, boxes []types.ExemplarBox) (*estimator.Result, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", types.ErrInvalidInput)
	}

	start := time.Now()
	sample, err := c.pre.Process(img, boxes)
	if err != nil {
		return nil, err
	}

	res, err := c.est.Estimate(ctx, sample)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	c.logger.Infow("counted",
		"size", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"exemplars", len(boxes),
		"windows", len(res.Windows),
		"count", res.Count,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// Count returns the number of objects in img that match the exemplar boxes.
// Box coordinates are pixels of img. On error the count is 0.
func (c *Counter) Count(ctx context.Context, img image.Image, boxes []types.ExemplarBox) (int, error) {
	res, err := c.Estimate(ctx, img, boxes)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// CountFile counts objects in the image stored at path
func (c *Counter) CountFile(ctx context.Context, path string, boxes []types.ExemplarBox) (int, error) {
	img, err := c.proc.LoadImage(path)
	if err != nil {
		return 0, err
	}
	return c.Count(ctx, img, boxes)
}

// CountReader counts objects in an encoded image read from r
func (c *Counter) CountReader(ctx context.Context, r io.Reader, boxes []types.ExemplarBox) (int, error) {
	img, err := c.proc.LoadImageFromReader(r)
	if err != nil {
		return 0, err
	}
	return c.Count(ctx, img, boxes)
}

// CountSource counts objects in the image at a file path or http(s) URL
func (c *Counter) CountSource(ctx context.Context, source string, boxes []types.ExemplarBox) (int, error) {
	img, err := c.proc.LoadImageSmart(ctx, source)
	if err != nil {
		return 0, err
	}
	return c.Count(ctx, img, boxes)
}

// Close releases the model
func (c *Counter) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
