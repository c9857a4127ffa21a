package assets

import (
	"errors"
	"image"
	"image/color"
)

// TGA image types handled by DecodeTGA.
const (
	tgaUncompressed = 2
	tgaRLE          = 10
)

// TGA decoding errors.
var (
	ErrTGATruncated   = errors.New("tga: data truncated")
	ErrTGAUnsupported = errors.New("tga: unsupported format")
)

// DecodeTGA decodes uncompressed (type 2) and RLE (type 10) true-color TGA
// files at 24 or 32 bits per pixel.
func DecodeTGA(data []byte) (image.Image, error) {
	if len(data) < 18 {
		return nil, ErrTGATruncated
	}
	idLength := int(data[0])
	colorMapType := data[1]
	imageType := data[2]
	width := int(data[12]) | int(data[13])<<8
	height := int(data[14]) | int(data[15])<<8
	bpp := int(data[16])
	topToBottom := data[17]&0x20 != 0

	if colorMapType != 0 || (imageType != tgaUncompressed && imageType != tgaRLE) || (bpp != 24 && bpp != 32) {
		return nil, ErrTGAUnsupported
	}
	offset := 18 + idLength
	if offset > len(data) {
		return nil, ErrTGATruncated
	}

	d := tgaDecoder{
		src:    data[offset:],
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
		stride: bpp / 8,
		flip:   !topToBottom,
	}
	var err error
	if imageType == tgaUncompressed {
		err = d.raw(width * height)
	} else {
		err = d.rle(width * height)
	}
	if err != nil {
		return nil, err
	}
	return d.img, nil
}

type tgaDecoder struct {
	src    []byte
	pos    int
	img    *image.RGBA
	stride int
	flip   bool
	n      int // pixels written
}

// next reads one BGR(A) pixel.
func (d *tgaDecoder) next() (color.RGBA, bool) {
	if d.pos+d.stride > len(d.src) {
		return color.RGBA{}, false
	}
	p := d.src[d.pos : d.pos+d.stride]
	d.pos += d.stride
	c := color.RGBA{R: p[2], G: p[1], B: p[0], A: 255}
	if d.stride == 4 {
		c.A = p[3]
	}
	return c, true
}

// put writes c at the next pixel position, bottom-up unless the header says
// otherwise.
func (d *tgaDecoder) put(c color.RGBA) {
	w := d.img.Rect.Dx()
	x, y := d.n%w, d.n/w
	if d.flip {
		y = d.img.Rect.Dy() - 1 - y
	}
	d.img.SetRGBA(x, y, c)
	d.n++
}

func (d *tgaDecoder) raw(total int) error {
	for d.n < total {
		c, ok := d.next()
		if !ok {
			return ErrTGATruncated
		}
		d.put(c)
	}
	return nil
}

// rle decodes run-length packets. A short stream leaves the remaining
// pixels transparent.
func (d *tgaDecoder) rle(total int) error {
	for d.n < total && d.pos < len(d.src) {
		header := d.src[d.pos]
		d.pos++
		count := int(header&0x7f) + 1

		if header&0x80 != 0 {
			c, ok := d.next()
			if !ok {
				return nil
			}
			for i := 0; i < count && d.n < total; i++ {
				d.put(c)
			}
			continue
		}
		for i := 0; i < count && d.n < total; i++ {
			c, ok := d.next()
			if !ok {
				return nil
			}
			d.put(c)
		}
	}
	return nil
}

// IsMagentaKey reports whether an RGB color is the RO magenta transparency
// key. The tolerance absorbs BMP decoding variations.
func IsMagentaKey(r, g, b uint8) bool {
	return r >= 250 && g <= 10 && b >= 250
}

// ApplyMagentaKey makes magenta pixels transparent black in place, so no
// magenta bleeds into neighbours when the atlas is filtered.
func ApplyMagentaKey(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			if IsMagentaKey(img.Pix[i], img.Pix[i+1], img.Pix[i+2]) {
				img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 0, 0, 0, 0
			}
		}
	}
}

// ToRGBA returns img as *image.RGBA, copying unless it already is one.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		out := *rgba
		out.Pix = append([]byte(nil), rgba.Pix...)
		return &out
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba
}
