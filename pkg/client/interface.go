// Package client defines the vision backend contract used to propose
// exemplar boxes and the response parsing shared by the backends.
package client

import (
	"context"
)

// VisionClient sends one prompt and one image to a vision language model and
// returns the raw text of the reply.
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
