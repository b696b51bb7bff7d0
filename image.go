package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	lineSpacing   = 20
	textWidthFrac = 0.8
)

var (
	gradientTop    = color.RGBA{102, 126, 234, 255}
	gradientBottom = color.RGBA{118, 75, 162, 255}
	textColor      = color.Black
)

// ImageRenderer draws header images with the title centred on a background
type ImageRenderer struct {
	width       int
	height      int
	backgrounds []string
	fonts       []string

	once     sync.Once
	font     *opentype.Font
	fontPath string
}

// NewImageRenderer creates a renderer from image settings
func NewImageRenderer(settings *Settings) *ImageRenderer {
	img := settings.Image
	w, h := img.Width, img.Height
	if w <= 0 || h <= 0 {
		w, h = 1280, 670
	}
	return &ImageRenderer{width: w, height: h, backgrounds: img.Backgrounds, fonts: img.Fonts}
}

// Render returns the PNG header for title. Output is deterministic for a
// given title, background and font set. Missing assets degrade the image;
// only encoding failure is an error.
func (r *ImageRenderer) Render(title string) ([]byte, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	r.paintBackground(canvas)

	face := r.face(FontSizeFor(title))
	maxWidth := int(float64(r.width) * textWidthFrac)
	lines := WrapTitle(strings.TrimSpace(title), func(s string) bool {
		return face.measure(s) <= maxWidth
	})

	lineHeight := face.lineHeight()
	total := len(lines)*lineHeight + (len(lines)-1)*lineSpacing
	y := (r.height - total) / 2
	for _, line := range lines {
		x := (r.width - face.measure(line)) / 2
		face.draw(canvas, x, y, line)
		y += lineHeight + lineSpacing
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, &RenderError{Cause: err}
	}
	return buf.Bytes(), nil
}

// FontSizeFor picks the point size from the display width of the title.
// Full-width characters count as two columns.
func FontSizeFor(title string) int {
	width := runewidth.StringWidth(strings.TrimSpace(title))
	switch {
	case width <= 20:
		return 120
	case width <= 30:
		return 100
	case width <= 40:
		return 85
	case width <= 50:
		return 70
	case width <= 60:
		return 60
	}
	return 50
}

func (r *ImageRenderer) paintBackground(dst *image.RGBA) {
	for _, path := range r.backgrounds {
		bg, err := loadImage(path)
		if err != nil {
			debugLog("Background %s unavailable: %v", path, err)
			continue
		}
		draw.CatmullRom.Scale(dst, dst.Bounds(), bg, bg.Bounds(), draw.Src, nil)
		return
	}
	paintGradient(dst, gradientTop, gradientBottom)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func paintGradient(dst *image.RGBA, top, bottom color.RGBA) {
	b := dst.Bounds()
	h := b.Dy()
	for y := 0; y < h; y++ {
		c := color.RGBA{
			R: lerp(top.R, bottom.R, y, h),
			G: lerp(top.G, bottom.G, y, h),
			B: lerp(top.B, bottom.B, y, h),
			A: 255,
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetRGBA(x, b.Min.Y+y, c)
		}
	}
}

func lerp(a, b uint8, i, n int) uint8 {
	if n <= 1 {
		return a
	}
	return uint8(int(a) + (int(b)-int(a))*i/(n-1))
}

// textFace measures and draws one line of text
type textFace interface {
	measure(s string) int
	lineHeight() int
	draw(dst draw.Image, x, y int, s string)
}

// face returns a face at size from the first loadable font, or the scaled
// bitmap fallback.
func (r *ImageRenderer) face(size int) textFace {
	r.once.Do(func() {
		for _, path := range r.fonts {
			f, err := loadFont(path)
			if err != nil {
				debugLog("Font %s unavailable: %v", path, err)
				continue
			}
			r.font, r.fontPath = f, path
			debugLog("Using font %s", path)
			return
		}
		log.Printf("⚠ No usable font found, header text uses the built-in bitmap font")
	})

	if r.font != nil {
		face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
			Size:    float64(size),
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err == nil {
			return &vectorFace{face: face}
		}
		log.Printf("⚠ Creating face from %s: %v", r.fontPath, err)
	}
	return newBitmapFace(size)
}

func loadFont(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ttc", ".otc":
		collection, err := opentype.ParseCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parsing collection: %w", err)
		}
		return collection.Font(0)
	}
	return opentype.Parse(data)
}

type vectorFace struct {
	face font.Face
}

func (v *vectorFace) measure(s string) int {
	return font.MeasureString(v.face, s).Ceil()
}

func (v *vectorFace) lineHeight() int {
	m := v.face.Metrics()
	return (m.Ascent + m.Descent).Ceil()
}

func (v *vectorFace) draw(dst draw.Image, x, y int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: v.face,
		Dot:  fixed.P(x, y+v.face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}

// bitmapFace draws basicfont glyphs scaled up by an integer factor.
type bitmapFace struct {
	scale int
}

func newBitmapFace(size int) *bitmapFace {
	scale := size / basicfont.Face7x13.Height
	if scale < 1 {
		scale = 1
	}
	return &bitmapFace{scale: scale}
}

func (b *bitmapFace) measure(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil() * b.scale
}

func (b *bitmapFace) lineHeight() int {
	return basicfont.Face7x13.Height * b.scale
}

func (b *bitmapFace) draw(dst draw.Image, x, y int, s string) {
	w := font.MeasureString(basicfont.Face7x13, s).Ceil()
	if w == 0 {
		return
	}
	small := image.NewRGBA(image.Rect(0, 0, w, basicfont.Face7x13.Height))
	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(0, basicfont.Face7x13.Ascent),
	}
	d.DrawString(s)

	target := image.Rect(x, y, x+w*b.scale, y+basicfont.Face7x13.Height*b.scale)
	draw.NearestNeighbor.Scale(dst, target, small, small.Bounds(), draw.Over, nil)
}
