// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package web

import (
	"bytes"
	"fmt"
	"strings"
)

// socialCrawlerTokens identify link-unfurling bots by user-agent substring.
var socialCrawlerTokens = []string{
	"facebookexternalhit",
	"facebot",
	"twitterbot",
	"linkedinbot",
	"discordbot",
	"slackbot",
	"whatsapp",
	"telegrambot",
}

// IsSocialCrawler reports whether the user agent belongs to a social
// platform's link preview fetcher.
func IsSocialCrawler(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, token := range socialCrawlerTokens {
		if strings.Contains(ua, token) {
			return true
		}
	}
	return false
}

// SessionMeta is what crawlers get to see about a session.
type SessionMeta struct {
	Title       string
	Description string
	URL         string
}

// escapeHTML escapes a value for embedding in attribute or text position.
// Ampersand goes first so already-escaped entities are not double-broken.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// InjectMeta returns the shell with Open Graph, Twitter and JSON-LD metadata
// inserted before </head>. A shell without </head> is returned unchanged.
func InjectMeta(shell []byte, meta SessionMeta) []byte {
	idx := bytes.Index(shell, []byte("</head>"))
	if idx < 0 {
		return shell
	}

	title := escapeHTML(meta.Title)
	desc := escapeHTML(meta.Description)
	url := escapeHTML(meta.URL)

	var b strings.Builder
	fmt.Fprintf(&b, "<meta property=\"og:title\" content=\"%s\">\n", title)
	fmt.Fprintf(&b, "<meta property=\"og:description\" content=\"%s\">\n", desc)
	fmt.Fprintf(&b, "<meta property=\"og:url\" content=\"%s\">\n", url)
	b.WriteString("<meta property=\"og:type\" content=\"music.song\">\n")
	b.WriteString("<meta name=\"twitter:card\" content=\"summary\">\n")
	fmt.Fprintf(&b, "<meta name=\"twitter:title\" content=\"%s\">\n", title)
	fmt.Fprintf(&b, "<meta name=\"twitter:description\" content=\"%s\">\n", desc)
	fmt.Fprintf(&b, "<script type=\"application/ld+json\">{\"@context\":\"https://schema.org\",\"@type\":\"MusicComposition\",\"name\":\"%s\",\"url\":\"%s\"}</script>\n",
		title, url)

	out := make([]byte, 0, len(shell)+b.Len())
	out = append(out, shell[:idx]...)
	out = append(out, b.String()...)
	out = append(out, shell[idx:]...)
	return out
}
