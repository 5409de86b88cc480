// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

// Package testing provides some tools for fixture loading and image
// generation as HTTP mock responses.
package testing

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path"

	"github.com/jarcoal/httpmock"
)

// NewImage returns an encoded image of the given size.
// Format is one of "png", "gif" or "jpeg".
func NewImage(format string, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0x80, 0xff})
		}
	}

	buf := new(bytes.Buffer)
	var err error
	switch format {
	case "gif":
		err = gif.Encode(buf, img, nil)
	case "jpeg":
		err = jpeg.Encode(buf, img, nil)
	default:
		err = png.Encode(buf, img)
	}
	if err != nil {
		panic(err)
	}

	return buf.Bytes()
}

// WriteImage writes a PNG image of the given size in a file.
func WriteImage(name string, w, h int) {
	if err := os.WriteFile(name, NewImage("png", w, h), 0o600); err != nil {
		panic(err)
	}
}

// NewImageResponder returns a mock response with a PNG image
// of the given size.
func NewImageResponder(w, h int) httpmock.Responder {
	return httpmock.NewBytesResponder(200, NewImage("png", w, h))
}

// NewFileResponder returns a mock response for a file in test-fixtures.
func NewFileResponder(name string) httpmock.Responder {
	fd, err := os.Open(path.Join("test-fixtures", name))
	if err != nil {
		panic(err)
	}
	defer fd.Close() //nolint:errcheck

	data, err := io.ReadAll(fd)
	if err != nil {
		panic(err)
	}

	return httpmock.NewBytesResponder(200, data)
}

// NewContentResponder returns a mock response for a file, with extra headers.
func NewContentResponder(status int, headers map[string]string, name string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		fd, err := os.Open(path.Join("test-fixtures", name))
		if err != nil {
			panic(err)
		}
		defer fd.Close() //nolint:errcheck

		data, err := io.ReadAll(fd)
		if err != nil {
			panic(err)
		}

		rsp := httpmock.NewBytesResponse(status, data)
		for k, v := range headers {
			rsp.Header.Set(k, v)
		}
		rsp.Request = req
		return rsp, nil
	}
}

// NewCSSResponder returns a mock response with a CSS content-type.
func NewCSSResponder(status int, name string) httpmock.Responder {
	return NewContentResponder(
		status,
		map[string]string{"content-type": "text/css; charset=utf-8"},
		name)
}

type errReader int

func (errReader) Read([]byte) (n int, err error) {
	return 0, errors.New("read error")
}

func (errReader) Close() error {
	return nil
}

// NewIOErrorResponder returns a mock response with a faulty body.
func NewIOErrorResponder(status int, headers map[string]string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		rsp := httpmock.NewBytesResponse(status, []byte{})
		for k, v := range headers {
			rsp.Header.Set(k, v)
		}
		rsp.Request = req
		rsp.Body = errReader(0)
		return rsp, nil
	}
}
