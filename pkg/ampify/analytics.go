// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package ampify

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"

	"golang.org/x/net/html"

	"github.com/go-shiori/dom"
)

const analyticsScriptURL = "https://cdn.ampproject.org/v0/amp-analytics-0.1.js"

var (
	rxTrackingID  = regexp.MustCompile(`\bUA-\d{4,10}-\d{1,4}\b`)
	rxGtagSnippet = regexp.MustCompile(`function gtag\(\)\{dataLayer\.push\(arguments\);\}`)
)

type analyticsTrigger struct {
	On      string `json:"on"`
	Request string `json:"request"`
}

type analyticsConfig struct {
	Vars struct {
		Account string `json:"account"`
	} `json:"vars"`
	Triggers map[string]analyticsTrigger `json:"triggers"`
}

func newAnalyticsConfig(trackingID string) analyticsConfig {
	c := analyticsConfig{
		Triggers: map[string]analyticsTrigger{
			"trackPageview": {On: "visible", Request: "pageview"},
		},
	}
	c.Vars.Account = trackingID
	return c
}

// rewriteAnalytics replaces Google Analytics scripts with amp-analytics.
func (r *run) rewriteAnalytics(ctx context.Context) {
	head := getHead(r.doc)

	dom.ForEachNode(dom.GetElementsByTagName(r.doc, "script"), func(n *html.Node, _ int) {
		if n.Parent == nil {
			return
		}

		if src := dom.GetAttribute(n, "src"); src != "" {
			if trackingID := rxTrackingID.FindString(src); trackingID != "" {
				element, err := newAnalyticsElement(trackingID)
				if err != nil {
					r.log().Error("cannot create analytics element", slog.Any("err", err))
					return
				}

				n.Parent.RemoveChild(n)
				dom.PrependChild(head, newScriptLoader("amp-analytics", analyticsScriptURL))
				dom.AppendChild(getBody(r.doc), element)

				r.log().LogAttrs(ctx, slog.LevelDebug, "analytics script replaced",
					slog.String("account", trackingID),
				)
				return
			}
		}

		if rxGtagSnippet.MatchString(dom.TextContent(n)) {
			n.Parent.RemoveChild(n)
		}
	})
}

func newAnalyticsElement(trackingID string) (*html.Node, error) {
	data, err := json.Marshal(newAnalyticsConfig(trackingID))
	if err != nil {
		return nil, err
	}

	script := dom.CreateElement("script")
	dom.SetAttribute(script, "type", "application/json")
	dom.SetTextContent(script, string(data))

	element := dom.CreateElement("amp-analytics")
	dom.SetAttribute(element, "type", "googleanalytics")
	dom.AppendChild(element, script)

	return element, nil
}
