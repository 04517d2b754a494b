package sim

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// FrameProducer yields encoded frames for the video endpoints.
type FrameProducer interface {
	Next() []byte
}

// FrameGenerator renders numbered JPEG test frames.
type FrameGenerator struct {
	width, height int
	quality       int

	mu    sync.Mutex
	count uint64
}

// NewFrameGenerator creates a generator for width x height frames.
func NewFrameGenerator(width, height int) *FrameGenerator {
	if width <= 0 {
		width = 160
	}
	if height <= 0 {
		height = 120
	}
	return &FrameGenerator{width: width, height: height, quality: 70}
}

// Next renders the following frame. The background shifts with the counter
// so consecutive frames differ visibly.
func (g *FrameGenerator) Next() []byte {
	g.mu.Lock()
	g.count++
	n := g.count
	g.mu.Unlock()

	bounds := image.Rect(0, 0, g.width, g.height)
	img := image.NewRGBA(bounds)
	bg := color.RGBA{R: uint8(n * 7), G: 64, B: uint8(255 - n*5), A: 255}
	draw.Draw(img, bounds, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 20),
	}
	d.DrawString(fmt.Sprintf("frame %d", n))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: g.quality}); err != nil {
		// Encoding into memory only fails for invalid images.
		panic(err)
	}
	return buf.Bytes()
}

// Count is the number of frames rendered so far.
func (g *FrameGenerator) Count() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}
