package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"time"

	// Container formats accepted in delimited modes
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decoded is a frame ready for display
type Decoded struct {
	Seq      uint64
	Width    int
	Height   int
	Layout   PixelLayout
	Format   string // container format name, empty for raw frames
	Image    image.Image
	Received time.Time
}

// Decoder turns one raw frame into a displayable image
type Decoder interface {
	Decode(raw RawFrame) (*Decoded, error)
}

// NewDecoder returns the decoder matching the spec's mode
func NewDecoder(spec Spec) (Decoder, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Mode == ModeFixed {
		return &RawDecoder{spec: spec}, nil
	}
	return &ContainerDecoder{}, nil
}

// RawDecoder packages fixed-size frames as images without copying or
// converting the pixel data
type RawDecoder struct {
	spec Spec
}

// Decode wraps raw in an image of the configured layout
func (d *RawDecoder) Decode(raw RawFrame) (*Decoded, error) {
	if want := d.spec.FrameLength(); len(raw) != want {
		return nil, fmt.Errorf("%w: raw frame is %d bytes, expected %d", ErrInvariantViolation, len(raw), want)
	}

	w, h := d.spec.Width, d.spec.Height
	rect := image.Rect(0, 0, w, h)
	stride := w * d.spec.BytesPerPixel

	var img image.Image
	switch d.spec.Layout {
	case LayoutRGBA:
		img = &image.RGBA{Pix: raw, Stride: stride, Rect: rect}
	case LayoutGray:
		img = &image.Gray{Pix: raw, Stride: stride, Rect: rect}
	default:
		img = &Interleaved{Pix: raw, Stride: stride, Rect: rect, Layout: d.spec.Layout}
	}

	return &Decoded{
		Width:  w,
		Height: h,
		Layout: d.spec.Layout,
		Image:  img,
	}, nil
}

// ContainerDecoder decodes self-describing image containers (JPEG, PNG, ...)
type ContainerDecoder struct{}

// Decode runs the registered image decoders over raw
func (d *ContainerDecoder) Decode(raw RawFrame) (*Decoded, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %v", ErrCorruptFrame, len(raw), err)
	}
	b := img.Bounds()
	return &Decoded{
		Width:  b.Dx(),
		Height: b.Dy(),
		Layout: LayoutContainer,
		Format: format,
		Image:  img,
	}, nil
}

// Interleaved is an image view over packed 3- or 4-byte pixels in RGB or BGR
// channel order. Pixels are read in place.
type Interleaved struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
	Layout PixelLayout
}

func (p *Interleaved) ColorModel() color.Model { return color.RGBAModel }

func (p *Interleaved) Bounds() image.Rectangle { return p.Rect }

func (p *Interleaved) At(x, y int) color.Color { return p.RGBAAt(x, y) }

// RGBAAt returns the pixel at (x, y) as opaque or alpha-carrying RGBA
func (p *Interleaved) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	bpp := p.Layout.BytesPerPixel()
	i := (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*bpp
	s := p.Pix[i : i+bpp : i+bpp]
	switch p.Layout {
	case LayoutBGR24:
		return color.RGBA{R: s[2], G: s[1], B: s[0], A: 0xff}
	case LayoutBGRA:
		return color.RGBA{R: s[2], G: s[1], B: s[0], A: s[3]}
	case LayoutRGBA:
		return color.RGBA{R: s[0], G: s[1], B: s[2], A: s[3]}
	default:
		return color.RGBA{R: s[0], G: s[1], B: s[2], A: 0xff}
	}
}
