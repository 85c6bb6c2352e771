package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// ErrPoolClosed is returned by Infer once the pool has been closed
var ErrPoolClosed = errors.New("model pool is closed")

// Runner is one loaded model instance
type Runner interface {
	Infer(ctx context.Context, window, exemplars []float32, numExemplars int) ([]float32, error)
	Close() error
}

// Pool hands out model instances so that each one serves a single inference
// at a time. A pool of size one serializes every caller.
type Pool struct {
	runners chan Runner
	size    int

	mu     sync.Mutex
	closed chan struct{}
	done   bool
	err    error
}

// NewPool opens size runners with open. If any fails, those already opened
// are closed and the error returned.
func NewPool(size int, open func(i int) (Runner, error)) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}

	p := &Pool{
		runners: make(chan Runner, size),
		size:    size,
		closed:  make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		r, err := open(i)
		if err != nil {
			return nil, multierr.Append(err, p.Close())
		}
		p.runners <- r
	}

	return p, nil
}

// Size returns the number of runners in the pool
func (p *Pool) Size() int {
	return p.size
}

// Infer borrows a runner for one call, waiting until one is free
func (p *Pool) Infer(ctx context.Context, window, exemplars []float32, numExemplars int) ([]float32, error) {
	r, err := p.get(ctx)
	if err != nil {
		return nil, err
	}
	defer p.put(r)
	return r.Infer(ctx, window, exemplars, numExemplars)
}

func (p *Pool) get(ctx context.Context) (Runner, error) {
	select {
	case <-p.closed:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case r := <-p.runners:
		return r, nil
	case <-p.closed:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) put(r Runner) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		// Close ran while this runner was on loan
		p.err = multierr.Append(p.err, r.Close())
		return
	}
	p.runners <- r
}

// Close releases every idle runner. Runners on loan are released when they
// are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.done {
		p.done = true
		close(p.closed)
		for drained := false; !drained; {
			select {
			case r := <-p.runners:
				p.err = multierr.Append(p.err, r.Close())
			default:
				drained = true
			}
		}
	}
	return p.err
}

// OpenPool loads size sessions of the model at modelPath
func OpenPool(modelPath string, size int, opts Options) (*Pool, error) {
	return NewPool(size, func(int) (Runner, error) {
		return NewSession(modelPath, opts)
	})
}
