// SPDX-FileCopyrightText: © 2020 Radhi Fadlillah
// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

// Package ampify converts an HTML document to an AMP document.
//
// A transformation runs in two steps. Remote images and stylesheets are
// first fetched concurrently and stored in a [Cache]. Once every fetch
// has returned, the document is rewritten synchronously: analytics
// scripts, attributes, image dimensions, inline styles and embeds.
package ampify

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/semaphore"

	"github.com/go-shiori/dom"
)

const levelTrace = slog.LevelDebug - 10

// DefaultLayout is the layout given to images when none is configured.
const DefaultLayout = "responsive"

// Fetcher performs HTTP requests. [*http.Client] implements it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the transformation settings.
type Config struct {
	// CWD is the base directory of local images and stylesheets.
	CWD string `yaml:"cwd"`

	// Round rounds image dimensions to the nearest multiple of 5.
	Round bool `yaml:"round"`

	// Layout is the AMP layout given to images.
	Layout string `yaml:"layout"`

	// IgnoreImageNotFound removes the images that received a 404.
	IgnoreImageNotFound bool `yaml:"ignore_image_not_found"`

	// NormalizeWhitespace collapses whitespace in text nodes.
	NormalizeWhitespace bool `yaml:"normalize_whitespace"`

	// XMLMode is not supported and only logs a warning.
	XMLMode bool `yaml:"xml_mode"`

	// DecodeEntities has no effect. The HTML parser always decodes
	// entities and the renderer only escapes markup characters.
	DecodeEntities bool `yaml:"decode_entities"`

	// StripImportant removes "!important" from inlined stylesheets.
	StripImportant bool `yaml:"strip_important"`
}

// DefaultConfig returns the default [Config].
func DefaultConfig() Config {
	return Config{
		Round:  true,
		Layout: DefaultLayout,
	}
}

func (c Config) layout() string {
	if c.Layout == "" {
		return DefaultLayout
	}
	return c.Layout
}

// Transformer converts HTML documents to AMP. It holds no state
// between calls and can be used concurrently.
type Transformer struct {
	config         Config
	fetcher        Fetcher
	logger         *slog.Logger
	fetchSemaphore *semaphore.Weighted
}

// Option is a function that can set a [Transformer] options.
type Option func(t *Transformer)

// WithConfig replaces the whole [Config].
func WithConfig(c Config) Option {
	return func(t *Transformer) {
		t.config = c
	}
}

// WithCWD sets the base directory of local resources.
func WithCWD(cwd string) Option {
	return func(t *Transformer) {
		t.config.CWD = cwd
	}
}

// WithRound enables or disables dimension rounding.
func WithRound(v bool) Option {
	return func(t *Transformer) {
		t.config.Round = v
	}
}

// WithLayout sets the image layout.
func WithLayout(layout string) Option {
	return func(t *Transformer) {
		t.config.Layout = layout
	}
}

// WithIgnoreImageNotFound sets the 404 policy for remote images.
func WithIgnoreImageNotFound(v bool) Option {
	return func(t *Transformer) {
		t.config.IgnoreImageNotFound = v
	}
}

// WithFetcher sets the [Fetcher] used for remote resources.
func WithFetcher(f Fetcher) Option {
	return func(t *Transformer) {
		t.fetcher = f
	}
}

// WithLogger sets the transformer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transformer) {
		t.logger = l
	}
}

// DefaultConcurrency is the number of concurrent downloads when
// none, or an invalid value, is given.
const DefaultConcurrency = 6

// WithConcurrency set the maximum concurrent downloads that
// can take place during the prefetch phase. A value lower than 1
// sets [DefaultConcurrency].
func WithConcurrency(v int64) Option {
	return func(t *Transformer) {
		if v < 1 {
			v = DefaultConcurrency
		}
		t.fetchSemaphore = semaphore.NewWeighted(v)
	}
}

// New creates a new [Transformer].
func New(options ...Option) *Transformer {
	t := &Transformer{
		config: DefaultConfig(),
	}

	for _, fn := range options {
		fn(t)
	}

	if t.fetchSemaphore == nil {
		t.fetchSemaphore = semaphore.NewWeighted(DefaultConcurrency)
	}
	if t.fetcher == nil {
		t.fetcher = http.DefaultClient
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}

	return t
}

// Config returns the transformer's configuration.
func (t *Transformer) Config() Config {
	return t.config
}

// run is the state of one transformation.
type run struct {
	*Transformer
	doc     *html.Node
	cache   *Cache
	youtube bool
}

// TransformString converts an HTML string and returns the AMP document.
func (t *Transformer) TransformString(ctx context.Context, src string) (string, error) {
	buf := new(bytes.Buffer)
	if err := t.Transform(ctx, strings.NewReader(src), buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Transform reads an HTML document from r and writes the AMP document to w.
// Nothing is written when the transformation fails.
func (t *Transformer) Transform(ctx context.Context, r io.Reader, w io.Writer) error {
	if t.config.XMLMode {
		t.logger.Warn("xml mode is not supported, parsing as HTML")
	}

	doc, err := html.Parse(r)
	if err != nil {
		return err
	}

	if err = t.TransformDocument(ctx, doc); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	if err = html.Render(buf, doc); err != nil {
		return err
	}

	_, err = io.Copy(w, buf)
	return err
}

// TransformDocument runs every transformation on a parsed document.
func (t *Transformer) TransformDocument(ctx context.Context, doc *html.Node) error {
	r := &run{
		Transformer: t,
		doc:         doc,
		cache:       NewCache(),
	}

	r.prefetch(ctx)

	r.setAMPFlag()
	r.rewriteAnalytics(ctx)
	r.sanitize(ctx)

	if err := r.resolveImages(ctx); err != nil {
		return err
	}

	r.inlineStylesheets(ctx)
	r.rewriteEmbeds(ctx)

	if t.config.NormalizeWhitespace {
		normalizeWhitespace(doc)
	}

	return nil
}

func (r *run) log() *slog.Logger {
	return r.logger
}

// setAMPFlag marks the root element as an AMP document.
func (r *run) setAMPFlag() {
	dom.ForEachNode(dom.GetElementsByTagName(r.doc, "html"), func(n *html.Node, _ int) {
		dom.SetAttribute(n, "amp", "")
	})
}
