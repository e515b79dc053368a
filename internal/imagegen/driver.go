package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/thinkscotty/glimpse/internal/config"
	"github.com/thinkscotty/glimpse/internal/library"
	"github.com/thinkscotty/glimpse/internal/metrics"
)

var (
	ErrBusy        = errors.New("a generation is already running")
	ErrUnknownFile = errors.New("file has no description")
	ErrSaveFailed  = errors.New("image save failed")
)

// Driver generates one image at a time for documents in the catalog.
type Driver struct {
	backend Backend
	catalog *library.Catalog
	cfg     config.DiffusionConfig
	caption config.CaptionConfig
	mu      sync.Mutex
}

func NewDriver(backend Backend, catalog *library.Catalog, cfg config.DiffusionConfig, caption config.CaptionConfig) *Driver {
	return &Driver{backend: backend, catalog: catalog, cfg: cfg, caption: caption}
}

// Catalog returns the descriptions the driver draws from.
func (d *Driver) Catalog() *library.Catalog { return d.catalog }

// Generate renders the image for name and saves it as <name>_generated.png
// in the library directory, returning the saved path. It fails with ErrBusy
// while another generation runs and with ErrUnknownFile when name has no
// description.
func (d *Driver) Generate(ctx context.Context, name string, progress ProgressFunc) (string, error) {
	if !d.mu.TryLock() {
		return "", ErrBusy
	}
	defer d.mu.Unlock()

	description, ok := d.catalog.Description(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFile, name)
	}

	req := Request{
		Prompt:         SynthesizePrompt(description),
		NegativePrompt: d.cfg.NegativePrompt,
		Steps:          d.cfg.Steps,
		GuidanceScale:  d.cfg.GuidanceScale,
		Width:          d.cfg.Width,
		Height:         d.cfg.Height,
		Seed:           d.cfg.Seed,
		Sampler:        d.cfg.Sampler,
		Model:          d.cfg.Model,
	}

	slog.Info("Generating image", "file", name, "steps", req.Steps, "guidance", req.GuidanceScale)
	start := time.Now()
	img, err := d.backend.Generate(ctx, req, progress)
	if err != nil {
		metrics.ImagesGenerated.WithLabelValues("failed").Inc()
		return "", err
	}
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	if d.caption.Enabled {
		text, ok := d.catalog.Summary(name)
		if !ok || text == "" {
			text = description
		}
		img = Caption(img, text, CaptionOptions{Padding: d.caption.Padding})
	}

	path := library.GeneratedImagePath(d.catalog.Dir(), name)
	if err := savePNG(path, img); err != nil {
		metrics.ImagesGenerated.WithLabelValues("failed").Inc()
		return "", err
	}
	metrics.ImagesGenerated.WithLabelValues("ok").Inc()

	slog.Info("Image saved", "file", name, "path", path, "elapsed", time.Since(start).Round(time.Millisecond))
	return path, nil
}

func savePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("%w: encode png: %v", ErrSaveFailed, err)
	}
	if err := library.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}
