// SPDX-FileCopyrightText: © 2020 Radhi Fadlillah
// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package ampify

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/go-shiori/dom"
)

// ErrInvalidDataURI is returned when a "data:" URI cannot be decoded.
var ErrInvalidDataURI = errors.New("invalid data URI")

var rxImageURL = regexp.MustCompile(`^(.*/)([^/]+\.[^/]+)$`)

// URLLogValue is a [slog.LogValuer] for URLs.
// It truncates the string when there too long (ie. data: URLs).
type URLLogValue string

// LogValue implements [slog.LogValuer].
func (s URLLogValue) LogValue() slog.Value {
	if len(s) > 256 {
		return slog.StringValue(string(s)[0:40] + "..." + string(s)[len(s)-40:])
	}

	return slog.StringValue(string(s))
}

type nodeLogValue struct {
	node *html.Node
}

// NodeLogValue is an [slog.LogValuer] for an [*html.Node].
// Its LogValue method renders and truncate the node as HTML.
func NodeLogValue(n *html.Node) slog.LogValuer {
	return &nodeLogValue{n}
}

func (n *nodeLogValue) LogValue() slog.Value {
	if n.node.Type == html.TextNode {
		return slog.StringValue(n.node.Data)
	}

	var tagPreview strings.Builder
	tagPreview.WriteString("<")
	tagPreview.WriteString(n.node.Data)

	hasOtherAttributes := false
	for _, attr := range n.node.Attr {
		switch strings.ToLower(attr.Key) {
		case "id", "class", "rel", "type", "width", "height":
			fmt.Fprintf(&tagPreview, ` %s=%q`, attr.Key, attr.Val)
		case "src", "href":
			val := attr.Val
			if strings.HasPrefix(val, "data:") {
				if v, _, ok := strings.Cut(val, ","); ok {
					val = v + ",***"
				}
			}
			fmt.Fprintf(&tagPreview, ` %s=%q`, attr.Key, val)
		default:
			hasOtherAttributes = true
		}
	}
	if hasOtherAttributes {
		tagPreview.WriteString(" ...")
	}

	if n.node.FirstChild == nil {
		tagPreview.WriteString("/")
	}
	tagPreview.WriteString(">")
	return slog.StringValue(tagPreview.String())
}

// isRemote returns true when a src or href value must go through
// the prefetcher and the cache.
func isRemote(uri string) bool {
	return strings.Contains(uri, "//") || strings.HasPrefix(uri, "data:")
}

// requestURL returns the URL to request for a given resource key.
// Protocol relative URLs receive an https scheme.
func requestURL(key string) string {
	if strings.HasPrefix(key, "//") {
		return "https:" + key
	}
	return key
}

// encodeImageURL percent-encodes the file name of an URL that contains
// non ASCII characters. The directory part is left as is.
func encodeImageURL(uri string) string {
	if isASCII(uri) {
		return uri
	}

	m := rxImageURL.FindStringSubmatch(uri)
	if m == nil {
		return uri
	}
	return m[1] + url.PathEscape(m[2])
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// loadDataURI decodes a "data:" URI and returns its content
// and content type.
// If the URI defines a "base64" encoding, it's decoded using
// [base64.StdEncoding].
func loadDataURI(uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", ErrInvalidDataURI
	}

	prefix, data, found := strings.Cut(uri, ",")
	if !found {
		return nil, "", ErrInvalidDataURI
	}
	prefix = strings.TrimSpace(prefix)
	data = strings.TrimSpace(data)
	contentType := strings.TrimPrefix(prefix, "data:")

	if !strings.HasSuffix(prefix, ";base64") {
		p, err := url.PathUnescape(data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidDataURI, err)
		}
		return []byte(p), contentType, nil
	}

	contentType = strings.TrimSuffix(contentType, ";base64")
	res := new(bytes.Buffer)
	dec := base64.NewDecoder(base64.StdEncoding, strings.NewReader(data))
	if _, err := io.Copy(res, dec); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidDataURI, err)
	}

	return res.Bytes(), contentType, nil
}

func getHead(doc *html.Node) *html.Node {
	if head := dom.QuerySelector(doc, "head"); head != nil {
		return head
	}

	head := dom.CreateElement("head")
	if root := dom.QuerySelector(doc, "html"); root != nil {
		dom.PrependChild(root, head)
	} else {
		dom.AppendChild(doc, head)
	}
	return head
}

func getBody(doc *html.Node) *html.Node {
	if body := dom.QuerySelector(doc, "body"); body != nil {
		return body
	}

	body := dom.CreateElement("body")
	if root := dom.QuerySelector(doc, "html"); root != nil {
		dom.AppendChild(root, body)
	} else {
		dom.AppendChild(doc, body)
	}
	return body
}

// newScriptLoader returns an AMP extension script element.
func newScriptLoader(element, src string) *html.Node {
	n := dom.CreateElement("script")
	dom.SetAttribute(n, "async", "")
	dom.SetAttribute(n, "custom-element", element)
	dom.SetAttribute(n, "src", src)
	return n
}

// renameElement replaces a node with a new element named after tagName.
// The attributes are copied and the children are moved to the new element.
func renameElement(node *html.Node, tagName string) *html.Node {
	n := dom.CreateElement(tagName)
	n.Attr = append([]html.Attribute{}, node.Attr...)

	for child := node.FirstChild; child != nil; {
		next := child.NextSibling
		node.RemoveChild(child)
		n.AppendChild(child)
		child = next
	}

	if node.Parent != nil {
		dom.ReplaceChild(node.Parent, n, node)
	}
	return n
}
