// Package raster captures printable content into an oversampled bitmap
// and encodes it as the base64 PNG payload the print agent accepts.
package raster

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/layout"
)

// ErrTargetUnavailable is returned when there is nothing to capture
var ErrTargetUnavailable = errors.New("capture target not available")

// Oversampling is the fixed capture density relative to CSS pixels
const Oversampling = layout.DefaultOversampling

// TopLeft is the transform origin applied while capturing
const TopLeft = "top left"

// Transform is the CSS transform state of a capture target
type Transform struct {
	CSS    string `json:"css"`
	Origin string `json:"origin"`
}

// ScaleTransform returns a top-left anchored scale transform
func ScaleTransform(factor float64) Transform {
	return Transform{
		CSS:    "scale(" + strconv.FormatFloat(factor, 'f', -1, 64) + ")",
		Origin: TopLeft,
	}
}

// Scale extracts the factor of a scale(...) transform. Anything else,
// including an empty transform, is 1.
func (t Transform) Scale() float64 {
	css := strings.TrimSpace(t.CSS)
	if !strings.HasPrefix(css, "scale(") || !strings.HasSuffix(css, ")") {
		return 1
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(css[len("scale("):len(css)-1]), 64)
	if err != nil || v <= 0 {
		return 1
	}
	return v
}

// Target is a region of rendered content that can be captured
type Target interface {
	// Transform returns the current transform of the region.
	Transform(ctx context.Context) (Transform, error)
	// SetTransform replaces the transform of the region.
	SetTransform(ctx context.Context, t Transform) error
	// Capture renders the region at the given oversampling factor.
	Capture(ctx context.Context, oversampling float64) (image.Image, error)
}

// Image is a captured bitmap and its encoded payload
type Image struct {
	Bitmap       image.Image
	Width        int
	Height       int
	Oversampling float64
	// Data is the base64 PNG payload without any data URI prefix.
	Data string
}

// WidthMM returns the physical width the bitmap represents
func (i *Image) WidthMM() float64 {
	return layout.PixelsToMM(i.Width, i.Oversampling)
}

// HeightMM returns the physical height the bitmap represents
func (i *Image) HeightMM() float64 {
	return layout.PixelsToMM(i.Height, i.Oversampling)
}

// Rasterizer captures targets under a temporary scale transform
type Rasterizer struct {
	logger *zap.Logger
}

// New creates a rasterizer. A nil logger discards output.
func New(logger *zap.Logger) *Rasterizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rasterizer{logger: logger}
}

// Capture renders target at scale with a fixed 2x oversampling. The
// target's previous transform is restored before returning, whether or not
// the capture succeeded.
func (r *Rasterizer) Capture(ctx context.Context, target Target, scale float64) (img *Image, err error) {
	if target == nil {
		return nil, ErrTargetUnavailable
	}
	if scale <= 0 {
		scale = 1
	}

	prev, err := target.Transform(ctx)
	if err != nil {
		return nil, err
	}

	if err := target.SetTransform(ctx, ScaleTransform(scale)); err != nil {
		r.restore(ctx, target, prev)
		return nil, fmt.Errorf("failed to apply transform: %w", err)
	}
	defer r.restore(ctx, target, prev)

	bitmap, err := target.Capture(ctx, Oversampling)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}

	img, err = Encode(bitmap, Oversampling)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("captured target",
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Float64("scale", scale))

	return img, nil
}

func (r *Rasterizer) restore(ctx context.Context, target Target, prev Transform) {
	// The caller's context may already be done; restoring must still run.
	if err := target.SetTransform(context.WithoutCancel(ctx), prev); err != nil {
		r.logger.Warn("failed to restore transform", zap.Error(err))
	}
}

// Encode wraps a bitmap as an Image with its base64 PNG payload
func Encode(bitmap image.Image, oversampling float64) (*Image, error) {
	if bitmap == nil {
		return nil, ErrTargetUnavailable
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, bitmap, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}

	b := bitmap.Bounds()
	return &Image{
		Bitmap:       bitmap,
		Width:        b.Dx(),
		Height:       b.Dy(),
		Oversampling: oversampling,
		Data:         base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// StripDataURI removes a "data:image/png;base64," style prefix
func StripDataURI(s string) string {
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx != -1 {
			return s[idx+1:]
		}
	}
	return s
}

// Decode parses a base64 image payload, with or without a data URI prefix
func Decode(data string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(StripDataURI(data))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid image payload: %w", err)
	}
	return img, nil
}
