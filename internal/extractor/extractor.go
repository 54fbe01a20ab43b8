// Package extractor turns photos into ranked neighbor lists.
//
// A neighbor list holds the indices of the k reference images closest to a
// photo, nearest first. Two photos showing the same scene share most of their
// neighbors, which is what the overlap matcher keys on.
package extractor

import (
	"context"
	"fmt"
	"io"

	"github.com/thebtf/photodedup/pkg/models"
)

// Mode selects what the model service returns.
type Mode string

const (
	// ModeDistances expects one distance per reference image.
	ModeDistances Mode = "distances"
	// ModeEmbedding expects a feature vector ranked against a local reference matrix.
	ModeEmbedding Mode = "embedding"
)

// ParseMode converts a configuration string to a Mode. Empty input yields ModeDistances.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDistances:
		return ModeDistances, nil
	case ModeEmbedding:
		return ModeEmbedding, nil
	}
	return "", fmt.Errorf("unknown extractor mode %q", s)
}

// Extractor computes the neighbor list of a photo.
type Extractor interface {
	Extract(ctx context.Context, stub models.PhotoStub) ([]int, error)
}

// Opener gives read access to photo bytes by id.
type Opener interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// Func adapts a plain function to the Extractor interface.
type Func func(ctx context.Context, stub models.PhotoStub) ([]int, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, stub models.PhotoStub) ([]int, error) {
	return f(ctx, stub)
}
