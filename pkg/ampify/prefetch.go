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
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-shiori/dom"
)

const (
	selectImages      = "img:not([width]):not([height])"
	selectStylesheets = "link[rel=stylesheet]"

	acceptImageHeader = "image/webp,image/svg+xml,image/*,*/*;q=0.8"
	acceptCSSHeader   = "text/css,*/*;q=0.1"
)

// Stylesheets and images larger than this are not loaded.
var maxResourceSize int64 = 30 << 20

// ErrResourceTooLarge is returned when a response body exceeds the
// maximum resource size.
var ErrResourceTooLarge = errors.New("resource too large")

type statusError int

func (e statusError) Error() string {
	return fmt.Sprintf("invalid response status (%d)", int(e))
}

type prefetchTask struct {
	key    string
	uri    string
	accept string
}

// prefetch loads every remote image and stylesheet of the document
// into the cache. It returns once all the requests are done.
func (r *run) prefetch(ctx context.Context) {
	tasks := []prefetchTask{}

	dom.ForEachNode(dom.QuerySelectorAll(r.doc, selectImages), func(n *html.Node, _ int) {
		src := strings.TrimSpace(dom.GetAttribute(n, "src"))
		if src == "" || !isRemote(src) || !r.cache.Reserve(src) {
			return
		}
		tasks = append(tasks, prefetchTask{
			key:    src,
			uri:    encodeImageURL(requestURL(src)),
			accept: acceptImageHeader,
		})
	})

	dom.ForEachNode(dom.QuerySelectorAll(r.doc, selectStylesheets), func(n *html.Node, _ int) {
		href := dom.GetAttribute(n, "href")
		if href == "" || !isRemote(href) || !r.cache.Reserve(href) {
			return
		}
		tasks = append(tasks, prefetchTask{
			key:    href,
			uri:    requestURL(href),
			accept: acceptCSSHeader,
		})
	})

	if len(tasks) == 0 {
		return
	}

	r.log().Debug("prefetch resources", slog.Int("count", len(tasks)))

	// Every task is started before waiting. Failures are logged and
	// never cancel the other tasks.
	g := new(errgroup.Group)
	for _, task := range tasks {
		g.Go(func() error {
			r.fetchResource(ctx, task)
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

func (r *run) fetchResource(ctx context.Context, task prefetchTask) {
	log := r.log().With(slog.Any("url", URLLogValue(task.key)))

	if strings.HasPrefix(task.key, "data:") {
		payload, contentType, err := loadDataURI(task.key)
		if err != nil {
			log.Warn("cannot load resource", slog.Any("err", err))
			r.cache.Reject(task.key, err)
			return
		}
		r.cache.Resolve(task.key, payload, sniffContentType(contentType, payload))
		return
	}

	payload, contentType, err := r.fetch(ctx, task)
	if err != nil {
		var status statusError
		if errors.As(err, &status) && int(status) == http.StatusNotFound {
			log.Warn("resource not found", slog.Int("status", int(status)))
			r.cache.MarkNotFound(task.key)
			return
		}
		log.Warn("cannot load resource", slog.Any("err", err))
		if errors.Is(err, ErrResourceTooLarge) {
			r.cache.Reject(task.key, err)
		}
		return
	}

	r.cache.Resolve(task.key, payload, contentType)
	log.LogAttrs(ctx, levelTrace, "resource loaded",
		slog.String("type", contentType),
		slog.Int("size", len(payload)),
	)
}

// fetch sends the request for a task and returns the response body
// and its content type.
func (r *run) fetch(ctx context.Context, task prefetchTask) ([]byte, string, error) {
	if err := r.fetchSemaphore.Acquire(ctx, 1); err != nil {
		return nil, "", err
	}
	defer r.fetchSemaphore.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.uri, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", task.accept)

	rsp, err := r.fetcher.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer rsp.Body.Close() //nolint:errcheck

	if rsp.StatusCode/100 != 2 {
		return nil, "", statusError(rsp.StatusCode)
	}

	if rsp.ContentLength > maxResourceSize {
		return nil, "", fmt.Errorf("%w (%d bytes)", ErrResourceTooLarge, rsp.ContentLength)
	}

	buf := new(bytes.Buffer)
	if _, err = io.Copy(buf, io.LimitReader(rsp.Body, maxResourceSize+1)); err != nil {
		return nil, "", err
	}
	if int64(buf.Len()) > maxResourceSize {
		return nil, "", fmt.Errorf("%w (more than %d bytes)", ErrResourceTooLarge, maxResourceSize)
	}

	return buf.Bytes(), sniffContentType(rsp.Header.Get("content-type"), buf.Bytes()), nil
}

// sniffContentType returns the media type of a payload. When the given
// type is empty or binary, it's detected from the content.
func sniffContentType(contentType string, payload []byte) string {
	contentType, _, _ = strings.Cut(contentType, ";")
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	switch contentType {
	case "", "binary/octet-stream", "application/octet-stream":
		contentType, _, _ = strings.Cut(mimetype.Detect(payload).String(), ";")
	}
	return contentType
}
