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
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/net/html"

	"github.com/go-shiori/dom"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/parse/v2"
	cssparse "github.com/tdewolff/parse/v2/css"
)

var cssMinifier = func() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	return m
}()

// inlineStylesheets replaces every stylesheet link with an amp-custom
// style element. A stylesheet that cannot be loaded is removed.
func (r *run) inlineStylesheets(_ context.Context) {
	dom.ForEachNode(dom.QuerySelectorAll(r.doc, selectStylesheets), func(n *html.Node, _ int) {
		log := r.log().With(slog.Any("node", NodeLogValue(n)))

		style, err := r.loadStylesheet(dom.GetAttribute(n, "href"))
		if err != nil {
			log.Error("cannot inline stylesheet", slog.Any("err", err))
			n.Parent.RemoveChild(n)
			return
		}

		e := dom.CreateElement("style")
		dom.SetAttribute(e, "amp-custom", "")
		dom.SetTextContent(e, style)
		dom.ReplaceChild(n.Parent, e, n)
	})
}

// loadStylesheet returns the minified content of a stylesheet.
func (r *run) loadStylesheet(href string) (string, error) {
	var data []byte

	switch {
	case href == "":
		return "", errors.New("empty stylesheet URL")
	case !isRemote(href):
		var err error
		if data, err = os.ReadFile(filepath.Join(r.config.CWD, href)); err != nil {
			return "", err
		}
	default:
		entry, ok := r.cache.Get(href)
		if !ok || entry.State == StateUnresolved {
			return "", fmt.Errorf("%w: %s", ErrUnresolvedResource, URLLogValue(href).LogValue())
		}
		switch entry.State {
		case StateNotFound:
			return "", fmt.Errorf("stylesheet not found: %s", URLLogValue(href).LogValue())
		case StateInvalid:
			return "", fmt.Errorf("%s: %w", URLLogValue(href).LogValue(), entry.Err)
		}
		data = entry.Payload
	}

	if r.config.StripImportant {
		data = stripImportant(data)
	}

	return cssMinifier.String("text/css", string(data))
}

// stripImportant removes every "!important" annotation from a stylesheet.
func stripImportant(data []byte) []byte {
	lexer := cssparse.NewLexer(parse.NewInputBytes(data))
	buf := new(bytes.Buffer)

	var pending []byte
	for {
		token, bt := lexer.Next()
		if token == cssparse.ErrorToken {
			break
		}

		// "!" is kept aside until the next token tells if it
		// starts an "!important" annotation.
		if token == cssparse.DelimToken && bytes.Equal(bt, []byte("!")) {
			buf.Write(pending)
			pending = append([]byte{}, bt...)
			continue
		}

		if pending != nil {
			if token == cssparse.IdentToken && bytes.EqualFold(bt, []byte("important")) {
				pending = nil
				continue
			}
			if token == cssparse.WhitespaceToken {
				pending = append(pending, bt...)
				continue
			}
			buf.Write(pending)
			pending = nil
		}

		buf.Write(bt)
	}
	buf.Write(pending)

	return buf.Bytes()
}
