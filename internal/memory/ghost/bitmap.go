package ghost

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

const (
	ThumbnailWidth  = 320
	ThumbnailHeight = 180

	// MaxSourceDimension bounds either side of a captured frame; w*h*4 stays
	// well inside int even on 32-bit targets
	MaxSourceDimension = 16384
)

var (
	ErrEncode = errors.New("ghost bitmap encode failed")
	ErrDecode = errors.New("ghost bitmap decode failed")
)

// Bitmap is a PNG thumbnail of a tab, immutable once built
type Bitmap struct {
	data   []byte
	width  int
	height int
}

// ThumbnailSize fits w×h into the thumbnail box preserving aspect ratio.
// Images already inside the box keep their size.
func ThumbnailSize(w, h int) (int, int) {
	if w <= ThumbnailWidth && h <= ThumbnailHeight {
		return w, h
	}

	var tw, th int
	if w*ThumbnailHeight > h*ThumbnailWidth {
		tw = ThumbnailWidth
		th = ThumbnailWidth * h / w
	} else {
		th = ThumbnailHeight
		tw = ThumbnailHeight * w / h
	}
	return max(tw, 1), max(th, 1)
}

// FromRGBA builds a thumbnail from straight-alpha RGBA pixels
func FromRGBA(pixels []byte, width, height int) (*Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrEncode, width, height)
	}
	if width > MaxSourceDimension || height > MaxSourceDimension {
		return nil, fmt.Errorf("%w: dimensions %dx%d exceed %d", ErrEncode, width, height, MaxSourceDimension)
	}
	if want := width * height * 4; len(pixels) != want {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d, want %d",
			ErrEncode, len(pixels), width, height, want)
	}

	src := &image.NRGBA{
		Pix:    pixels,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}

	tw, th := ThumbnailSize(width, height)
	var img image.Image = src
	if tw != width || th != height {
		dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	return &Bitmap{data: buf.Bytes(), width: tw, height: th}, nil
}

// FromPNG wraps already-encoded PNG data
func FromPNG(data []byte) (*Bitmap, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	return &Bitmap{
		data:   bytes.Clone(data),
		width:  cfg.Width,
		height: cfg.Height,
	}, nil
}

// ToRGBA decodes the thumbnail back to straight-alpha RGBA pixels
func (b *Bitmap) ToRGBA() ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(b.data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	bounds := img.Bounds()
	out, ok := img.(*image.NRGBA)
	if !ok || out.Stride != bounds.Dx()*4 || bounds.Min != (image.Point{}) {
		out = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)
	}

	if want := b.width * b.height * 4; len(out.Pix) != want {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrDecode, len(out.Pix), want)
	}
	return out.Pix, nil
}

// PNG returns a copy of the encoded thumbnail
func (b *Bitmap) PNG() []byte {
	return bytes.Clone(b.data)
}

// Width of the thumbnail in pixels
func (b *Bitmap) Width() int { return b.width }

// Height of the thumbnail in pixels
func (b *Bitmap) Height() int { return b.height }

// Size is the encoded byte count
func (b *Bitmap) Size() int { return len(b.data) }
