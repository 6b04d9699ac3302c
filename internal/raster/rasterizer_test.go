package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	current    Transform
	applied    []Transform
	captureErr error
	size       image.Point
	seenScale  Transform
	seenFactor float64
}

func (f *fakeTarget) Transform(ctx context.Context) (Transform, error) {
	return f.current, nil
}

func (f *fakeTarget) SetTransform(ctx context.Context, t Transform) error {
	f.current = t
	f.applied = append(f.applied, t)
	return nil
}

func (f *fakeTarget) Capture(ctx context.Context, oversampling float64) (image.Image, error) {
	f.seenScale = f.current
	f.seenFactor = oversampling
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	img := image.NewRGBA(image.Rect(0, 0, f.size.X, f.size.Y))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.Black)
	return img, nil
}

func TestCapture_NilTarget(t *testing.T) {
	_, err := New(nil).Capture(context.Background(), nil, 1)
	assert.ErrorIs(t, err, ErrTargetUnavailable)
	assert.Equal(t, "capture target not available", ErrTargetUnavailable.Error())
}

func TestCapture_AppliesAndRestoresTransform(t *testing.T) {
	prev := Transform{CSS: "rotate(3deg)", Origin: "center"}
	target := &fakeTarget{current: prev, size: image.Pt(480, 320)}

	img, err := New(nil).Capture(context.Background(), target, 1.25)
	require.NoError(t, err)

	assert.Equal(t, Transform{CSS: "scale(1.25)", Origin: TopLeft}, target.seenScale)
	assert.Equal(t, 2.0, target.seenFactor)
	assert.Equal(t, prev, target.current)

	assert.Equal(t, 480, img.Width)
	assert.Equal(t, 320, img.Height)
	assert.Equal(t, 2.0, img.Oversampling)
	assert.False(t, strings.HasPrefix(img.Data, "data:"))
	assert.InDelta(t, 60.0, img.WidthMM(), 0.01)
	assert.InDelta(t, 40.0, img.HeightMM(), 0.01)
}

func TestCapture_OversamplingIndependentOfScale(t *testing.T) {
	for _, scale := range []float64{0.5, 1, 2} {
		target := &fakeTarget{size: image.Pt(10, 10)}
		_, err := New(nil).Capture(context.Background(), target, scale)
		require.NoError(t, err)
		assert.Equal(t, Oversampling, target.seenFactor)
	}
}

func TestCapture_RestoresOnFailure(t *testing.T) {
	prev := Transform{CSS: "translateX(4px)", Origin: "50% 50%"}
	target := &fakeTarget{current: prev, captureErr: errors.New("boom")}

	_, err := New(nil).Capture(context.Background(), target, 0.8)
	require.Error(t, err)

	assert.Equal(t, prev, target.current)
	require.Len(t, target.applied, 2)
	assert.Equal(t, prev, target.applied[1])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 7, 5))
	img, err := Encode(src, 2)
	require.NoError(t, err)

	decoded, err := Decode("data:image/png;base64," + img.Data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 7, 5), decoded.Bounds())
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode("!!!")
	assert.Error(t, err)
}

func TestTransformScale(t *testing.T) {
	assert.Equal(t, 1.0, Transform{}.Scale())
	assert.Equal(t, 0.5, ScaleTransform(0.5).Scale())
	assert.Equal(t, 1.0, Transform{CSS: "rotate(2deg)"}.Scale())
	assert.Equal(t, 1.0, Transform{CSS: "scale(-1)"}.Scale())
}

func TestStripDataURI(t *testing.T) {
	assert.Equal(t, "AAAA", StripDataURI("data:image/png;base64,AAAA"))
	assert.Equal(t, "AAAA", StripDataURI("AAAA"))
}
