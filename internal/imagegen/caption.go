package imagegen

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// CaptionOptions controls the band drawn under a generated image.
type CaptionOptions struct {
	Padding    int
	Face       font.Face   // defaults to basicfont.Face7x13
	Background color.Color // defaults to white
	Foreground color.Color // defaults to black
}

func (o CaptionOptions) withDefaults() CaptionOptions {
	if o.Face == nil {
		o.Face = basicfont.Face7x13
	}
	if o.Background == nil {
		o.Background = color.White
	}
	if o.Foreground == nil {
		o.Foreground = color.Black
	}
	if o.Padding < 0 {
		o.Padding = 0
	}
	return o
}

// Caption returns a copy of img extended downwards by a band holding text,
// word-wrapped to the image width. Nothing is truncated: the band grows with
// the number of lines.
func Caption(img image.Image, text string, opts CaptionOptions) image.Image {
	opts = opts.withDefaults()
	b := img.Bounds()

	maxWidth := b.Dx() - 2*opts.Padding
	lines := WrapText(opts.Face, text, maxWidth)
	if len(lines) == 0 {
		return img
	}

	metrics := opts.Face.Metrics()
	lineHeight := metrics.Height.Ceil()
	band := len(lines)*lineHeight + 2*opts.Padding

	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()+band))
	draw.Draw(canvas, image.Rect(0, 0, b.Dx(), b.Dy()), img, b.Min, draw.Src)
	draw.Draw(canvas, image.Rect(0, b.Dy(), b.Dx(), b.Dy()+band), image.NewUniform(opts.Background), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(opts.Foreground),
		Face: opts.Face,
	}
	y := b.Dy() + opts.Padding + metrics.Ascent.Ceil()
	for _, line := range lines {
		d.Dot = fixed.P(opts.Padding, y)
		d.DrawString(line)
		y += lineHeight
	}
	return canvas
}

// WrapText breaks text into lines no wider than maxWidth pixels. Words wider
// than a line are split across lines rune by rune.
func WrapText(face font.Face, text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	limit := fixed.I(maxWidth)
	if maxWidth <= 0 {
		return words
	}

	var lines []string
	current := ""
	for _, word := range words {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if font.MeasureString(face, candidate) <= limit {
			current = candidate
			continue
		}
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
		if font.MeasureString(face, word) <= limit {
			current = word
			continue
		}
		// The word alone is too wide.
		chunk := ""
		for _, r := range word {
			next := chunk + string(r)
			if chunk != "" && font.MeasureString(face, next) > limit {
				lines = append(lines, chunk)
				next = string(r)
			}
			chunk = next
		}
		current = chunk
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}
