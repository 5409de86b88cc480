// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package ampify

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"github.com/go-shiori/dom"
)

// strippedAttributes are removed from every element.
var strippedAttributes = []string{
	"nowrap",
	"style",
	"clear",
	"frame",
	"rules",
	"scope",
	"width",
	"border",
	"loading",
	"contenteditable",
	"match",
	"loopnumber",
	"e",
}

// sizedElements keep their width attribute.
var sizedElements = map[string]struct{}{
	"img":    {},
	"iframe": {},
	"video":  {},
	"audio":  {},
}

func keepsWidth(n *html.Node) bool {
	if _, ok := sizedElements[n.Data]; ok {
		return true
	}
	return strings.HasPrefix(n.Data, "amp-")
}

// sanitize removes the forbidden attributes and the scripts that
// remain in the body.
func (r *run) sanitize(ctx context.Context) {
	dom.ForEachNode(dom.GetElementsByTagName(r.doc, "*"), func(n *html.Node, _ int) {
		width := keepsWidth(n)
		n.Attr = slices.DeleteFunc(n.Attr, func(a html.Attribute) bool {
			if a.Key == "width" && width {
				return false
			}
			return slices.Contains(strippedAttributes, a.Key)
		})
	})

	body := dom.QuerySelector(r.doc, "body")
	if body == nil {
		return
	}

	dom.RemoveNodes(dom.GetElementsByTagName(body, "script"), func(n *html.Node) bool {
		for p := n.Parent; p != nil && p != body; p = p.Parent {
			if strings.HasPrefix(p.Data, "amp-") {
				return false
			}
		}
		r.log().LogAttrs(ctx, levelTrace, "remove script",
			slog.Any("node", NodeLogValue(n)),
		)
		return true
	})
}
