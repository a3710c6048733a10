package engine

import (
	"hash/crc32"
	"image"
	"image/color"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/image/draw"

	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

// Viewport dimensions of the wireframe raster
const (
	ViewportWidth  = 320
	ViewportHeight = 200
)

var (
	paper    = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	ink      = color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
	text     = color.NRGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff}
	media    = color.NRGBA{R: 0xa8, G: 0xc8, B: 0xe8, A: 0xff}
	control  = color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	blockSel = "h1, h2, h3, h4, p, li, pre, blockquote, img, input, textarea, button, select"
)

// renderWireframe draws a block layout of the visible part of the page.
// It is a stand-in for real painting, good enough for a tab thumbnail.
func renderWireframe(d *Document, scrollY float32) *tabs.Frame {
	img := image.NewNRGBA(image.Rect(0, 0, ViewportWidth, ViewportHeight))
	fill(img, img.Bounds(), paper)

	// address band tinted per host
	fill(img, image.Rect(0, 0, ViewportWidth, 12), hostColor(d))

	const margin = 8
	y := 20 - int(scrollY/4)

	d.Find(blockSel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if y > ViewportHeight {
			return false
		}
		switch goquery.NodeName(s) {
		case "h1", "h2", "h3", "h4":
			w := clampWidth(len(strings.TrimSpace(s.Text()))*6, margin)
			fill(img, image.Rect(margin, y, margin+w, y+8), ink)
			y += 14
		case "img":
			fill(img, image.Rect(margin, y, margin+64, y+40), media)
			y += 46
		case "input", "textarea", "select", "button":
			box := image.Rect(margin, y, margin+120, y+10)
			fill(img, box, control)
			fill(img, box.Inset(1), paper)
			y += 16
		default:
			n := len(strings.TrimSpace(s.Text()))
			if n == 0 {
				return true
			}
			for n > 0 && y <= ViewportHeight {
				line := n
				if line > 50 {
					line = 50
				}
				fill(img, image.Rect(margin, y, margin+clampWidth(line*6, margin), y+3), text)
				y += 6
				n -= line
			}
			y += 4
		}
		return true
	})

	return &tabs.Frame{Pixels: img.Pix, Width: ViewportWidth, Height: ViewportHeight}
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func clampWidth(w, margin int) int {
	if limit := ViewportWidth - 2*margin; w > limit {
		return limit
	}
	return w
}

func hostColor(d *Document) color.NRGBA {
	host := ""
	if d.base != nil {
		host = d.base.Host
	}
	h := crc32.ChecksumIEEE([]byte(host))
	return color.NRGBA{R: byte(h>>16) | 0x40, G: byte(h>>8) | 0x40, B: byte(h) | 0x40, A: 0xff}
}
