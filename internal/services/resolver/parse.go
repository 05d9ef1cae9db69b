// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package resolver

import (
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"
)

const publishTimeLayout = "2006-01-02 15:04:05"

var tidRe = regexp.MustCompile(`id=(\d+)`)

// promotionClasses maps the icon classes on the search listing to labels.
// Checked in order so the combined icon wins over its parts.
var promotionClasses = []struct {
	class string
	label string
}{
	{"pro_free2up", "Free+2x"},
	{"pro_free", "Free"},
	{"pro_2up", "2x"},
	{"pro_50pct", "50%"},
	{"pro_30pct", "30%"},
	{"pro_custom", "Custom"},
}

type searchResult struct {
	TID         int64
	PublishTime time.Time
	Promotion   string
}

type peerInfo struct {
	Uploaded    int64
	IdleSeconds int64
}

// parseSearchResult extracts the first hit from a torrents.php search page.
// A hash search matches at most one torrent, so only the first data row of
// the listing table is read.
func parseSearchResult(r io.Reader) (searchResult, bool, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return searchResult{}, false, err
	}

	table := findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "table" && hasClass(n, "torrents")
	})
	if table == nil {
		return searchResult{}, false, nil
	}

	rows := childElements(table, "tr")
	if len(rows) < 2 {
		return searchResult{}, false, nil
	}
	row := rows[1]

	cells := childElements(row, "td")
	if len(cells) < 2 {
		return searchResult{}, false, nil
	}

	res := searchResult{Promotion: rowPromotion(row)}

	anchor := findNode(cells[1], func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "a"
	})
	if anchor == nil {
		return searchResult{}, false, nil
	}
	m := tidRe.FindStringSubmatch(attr(anchor, "href"))
	if m == nil {
		return searchResult{}, false, nil
	}
	res.TID, _ = strconv.ParseInt(m[1], 10, 64)

	if timeNode := findNode(row, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "time"
	}); timeNode != nil {
		raw := attr(timeNode, "title")
		if raw == "" {
			raw = strings.TrimSpace(textOf(timeNode))
		}
		if t, err := time.ParseInLocation(publishTimeLayout, raw, time.Local); err == nil {
			res.PublishTime = t
		}
	}

	return res, true, nil
}

// parsePeerList reads the viewer's own row from viewpeerlist.php. The site
// highlights it with a bgcolor attribute; the uploaded column sits at index
// 1 and the idle time at index 10.
func parsePeerList(r io.Reader) (peerInfo, bool, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return peerInfo{}, false, err
	}

	row := findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "tr" && attr(n, "bgcolor") != ""
	})
	if row == nil {
		return peerInfo{}, false, nil
	}

	cells := childElements(row, "td")
	if len(cells) < 11 {
		return peerInfo{}, false, nil
	}

	info := peerInfo{
		Uploaded:    parseSize(textOf(cells[1])),
		IdleSeconds: parseIdle(textOf(cells[10])),
	}
	return info, true, nil
}

// parseSize converts a listing size like "12.5 GiB" to bytes. European
// decimal commas are accepted. Returns 0 on garbage.
func parseSize(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return int64(n)
}

// parseIdle converts a colon-separated idle duration ("1:02:03" or "5:20")
// to seconds.
func parseIdle(s string) int64 {
	var total int64
	for _, part := range strings.Split(strings.TrimSpace(s), ":") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}

func rowPromotion(row *html.Node) string {
	for _, p := range promotionClasses {
		img := findNode(row, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "img" && hasClass(n, p.class)
		})
		if img != nil {
			return p.label
		}
	}
	return "none"
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

// childElements collects descendant elements by tag, skipping nested tables
// so a listing row never leaks rows from an embedded table.
func childElements(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node, bool)
	walk = func(c *html.Node, root bool) {
		if !root && c.Type == html.ElementNode && c.Data == "table" {
			return
		}
		if c.Type == html.ElementNode && c.Data == tag {
			out = append(out, c)
			return
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child, false)
		}
	}
	walk(n, true)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
