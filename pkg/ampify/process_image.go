// SPDX-FileCopyrightText: © 2020 Radhi Fadlillah
// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package ampify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder

	_ "golang.org/x/image/bmp"  // BMP decoder
	_ "golang.org/x/image/tiff" // TIFF decoder
	_ "golang.org/x/image/webp" // WEBP decoder

	"golang.org/x/net/html"

	"github.com/antchfx/xmlquery"
	"github.com/go-shiori/dom"
)

var (
	// ErrUnresolvedResource is returned when an image was not loaded
	// during the prefetch phase.
	ErrUnresolvedResource = errors.New("unresolved resource")

	// ErrImageDecode is returned when an image size cannot be read.
	ErrImageDecode = errors.New("cannot decode image")
)

var rxSVGLength = regexp.MustCompile(`^\s*([0-9]*\.?[0-9]+)\s*(px)?\s*$`)

// Size is an image dimension in pixels.
type Size struct {
	Width  int
	Height int
}

// roundDimension returns the value rounded to the nearest multiple of 5
// when rounding is enabled.
func (c Config) roundDimension(v int) int {
	if !c.Round {
		return v
	}
	return int(math.Round(float64(v)/5)) * 5
}

// resolveImages sets width, height and layout on every image that
// has none of them.
func (r *run) resolveImages(ctx context.Context) error {
	for _, n := range dom.QuerySelectorAll(r.doc, selectImages) {
		if err := r.resolveImage(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) resolveImage(ctx context.Context, n *html.Node) error {
	log := r.log().With(slog.Any("node", NodeLogValue(n)))

	src := strings.TrimSpace(dom.GetAttribute(n, "src"))
	if src == "" {
		log.LogAttrs(ctx, slog.LevelDebug, "remove image without source")
		n.Parent.RemoveChild(n)
		return nil
	}

	var size Size
	var err error

	if !isRemote(src) {
		p := filepath.Join(r.config.CWD, src)
		if fi, err := os.Stat(p); err != nil || fi.IsDir() {
			log.Warn("image not found", slog.String("path", p))
			return nil
		}
		if size, err = probeFile(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	} else {
		entry, ok := r.cache.Get(src)
		if !ok || entry.State == StateUnresolved {
			return fmt.Errorf("%w: %s", ErrUnresolvedResource, src)
		}

		if entry.State == StateNotFound {
			if r.config.IgnoreImageNotFound {
				log.LogAttrs(ctx, slog.LevelDebug, "remove image not found")
				n.Parent.RemoveChild(n)
			}
			return nil
		}

		if entry.State == StateInvalid {
			return fmt.Errorf("%w: %s: %w", ErrImageDecode, URLLogValue(src).LogValue().String(), entry.Err)
		}

		if size, err = probe(entry.Payload, entry.ContentType); err != nil {
			return fmt.Errorf("%s: %w", URLLogValue(src).LogValue().String(), err)
		}
	}

	dom.SetAttribute(n, "width", strconv.Itoa(r.config.roundDimension(size.Width)))
	dom.SetAttribute(n, "height", strconv.Itoa(r.config.roundDimension(size.Height)))
	dom.SetAttribute(n, "layout", r.config.layout())
	return nil
}

func probeFile(name string) (Size, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return Size{}, err
	}
	return probe(data, sniffContentType("", data))
}

// probe returns the pixel dimensions of an image.
func probe(data []byte, contentType string) (Size, error) {
	if contentType == "image/svg+xml" {
		return probeSVG(data)
	}

	c, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Size{}, fmt.Errorf("%w: %w", ErrImageDecode, err)
	}
	return Size{c.Width, c.Height}, nil
}

// probeSVG reads the size of an SVG document from its width and
// height attributes, or from its viewBox.
func probeSVG(data []byte) (Size, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return Size{}, fmt.Errorf("%w: %w", ErrImageDecode, err)
	}

	root := xmlquery.FindOne(doc, "//*[local-name()='svg']")
	if root == nil {
		return Size{}, fmt.Errorf("%w: no svg element", ErrImageDecode)
	}

	w, wok := parseSVGLength(root.SelectAttr("width"))
	h, hok := parseSVGLength(root.SelectAttr("height"))
	if wok && hok {
		return Size{w, h}, nil
	}

	box := strings.FieldsFunc(root.SelectAttr("viewBox"), func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(box) == 4 {
		bw, err1 := strconv.ParseFloat(box[2], 64)
		bh, err2 := strconv.ParseFloat(box[3], 64)
		if err1 == nil && err2 == nil && bw > 0 && bh > 0 {
			return Size{int(math.Round(bw)), int(math.Round(bh))}, nil
		}
	}

	return Size{}, fmt.Errorf("%w: svg has no size", ErrImageDecode)
}

func parseSVGLength(s string) (int, bool) {
	m := rxSVGLength.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return int(math.Round(v)), true
}
