// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package ampify

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/go-shiori/dom"
)

const youtubeScriptURL = "https://cdn.ampproject.org/v0/amp-youtube-0.1.js"

const selectYoutube = `iframe[src*="http://www.youtube.com"],` +
	`iframe[src*="https://www.youtube.com"],` +
	`iframe[src*="http://youtu.be/"],` +
	`iframe[src*="https://youtu.be/"]`

// ampTags are the elements converted to their amp- counterpart.
var ampTags = []string{"img", "video"}

var rxSpaces = regexp.MustCompile(`\s+`)

// rewriteEmbeds converts YouTube iframes, audio and media elements
// to AMP elements.
func (r *run) rewriteEmbeds(ctx context.Context) {
	r.rewriteYoutube(ctx)
	r.rewriteAudio(ctx)
	r.rewriteAMPTags(ctx)

	if r.youtube {
		dom.PrependChild(getHead(r.doc), newScriptLoader("amp-youtube", youtubeScriptURL))
	}
}

func (r *run) rewriteYoutube(ctx context.Context) {
	dom.ForEachNode(dom.QuerySelectorAll(r.doc, selectYoutube), func(n *html.Node, _ int) {
		src := dom.GetAttribute(n, "src")
		videoID := youtubeVideoID(src)

		e := dom.CreateElement("amp-youtube")
		dom.SetAttribute(e, "data-videoid", videoID)
		for _, k := range []string{"width", "height"} {
			if dom.HasAttribute(n, k) {
				dom.SetAttribute(e, k, dom.GetAttribute(n, k))
			}
		}
		dom.SetAttribute(e, "layout", "responsive")

		dom.ReplaceChild(n.Parent, e, n)
		r.youtube = true

		r.log().LogAttrs(ctx, slog.LevelDebug, "youtube embed",
			slog.String("id", videoID),
			slog.Any("url", URLLogValue(src)),
		)
	})
}

// youtubeVideoID returns the last path segment of a YouTube URL.
func youtubeVideoID(src string) string {
	p := src
	if u, err := url.Parse(src); err == nil {
		p = u.Path
	} else {
		p, _, _ = strings.Cut(p, "?")
	}

	segments := strings.Split(p, "/")
	return segments[len(segments)-1]
}

func (r *run) rewriteAudio(_ context.Context) {
	dom.ForEachNode(dom.GetElementsByTagName(r.doc, "audio"), func(n *html.Node, _ int) {
		e := renameElement(n, "amp-audio")
		dom.SetAttribute(e, "width", "300")
		dom.SetAttribute(e, "height", "59")
	})
}

func (r *run) rewriteAMPTags(_ context.Context) {
	dom.ForEachNode(dom.GetAllNodesWithTag(r.doc, ampTags...), func(n *html.Node, _ int) {
		if strings.HasPrefix(n.Data, "amp-") {
			return
		}
		renameElement(n, "amp-"+n.Data)
	})
}

// normalizeWhitespace collapses whitespace in text nodes, except in
// preformatted and raw text elements.
func normalizeWhitespace(doc *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "pre", "textarea", "script", "style":
				return
			}
		}
		if n.Type == html.TextNode {
			n.Data = rxSpaces.ReplaceAllString(n.Data, " ")
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
}
