// Package capture is the narrow seam in front of the vision capture source.
// The camera itself is a black box; the orchestrator only needs image bytes
// for a given reference.
package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
)

// Image is a captured frame ready for the inference backend.
type Image struct {
	Ref    string
	Data   []byte
	Base64 string
}

// Source produces frames on demand.
type Source interface {
	Capture(ctx context.Context, ref string) (Image, error)
}

// FileSource resolves image references as filesystem paths. It stands in for
// the camera pipeline on development machines and in tests.
type FileSource struct{}

func (FileSource) Capture(ctx context.Context, ref string) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return Image{}, fmt.Errorf("reading image %s: %w", ref, err)
	}
	return Image{
		Ref:    ref,
		Data:   data,
		Base64: base64.StdEncoding.EncodeToString(data),
	}, nil
}
