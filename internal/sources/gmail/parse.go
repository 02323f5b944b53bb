package gmail

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	gmailapi "google.golang.org/api/gmail/v1"
	"golang.org/x/net/html"
)

// Metadata is the header information stored with an email
type Metadata struct {
	Sender     string
	Subject    string
	ReceivedAt time.Time
}

// Link is an anchor found in an email body, before normalization
type Link struct {
	URL     string
	Title   string
	Context string
}

// ParseMetadata reads sender, subject and date headers. The receive time
// falls back to the Gmail internal date when the Date header is missing or
// unparsable.
func ParseMetadata(msg *gmailapi.Message) Metadata {
	meta := Metadata{Sender: "Unknown", Subject: "No Subject"}
	var date string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				if meta.Sender == "Unknown" {
					meta.Sender = h.Value
				}
			case "subject":
				if meta.Subject == "No Subject" {
					meta.Subject = h.Value
				}
			case "date":
				if date == "" {
					date = h.Value
				}
			}
		}
	}

	if date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			meta.ReceivedAt = t.UTC()
			return meta
		}
	}
	meta.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	return meta
}

// Bodies walks the MIME tree and returns the plain text and HTML parts. When
// only HTML is present the text is derived from it.
func Bodies(msg *gmailapi.Message) (text, htmlBody string) {
	if msg.Payload == nil {
		return "", ""
	}

	stack := []*gmailapi.MessagePart{msg.Payload}
	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(part.Parts) > 0 {
			stack = append(stack, part.Parts...)
			continue
		}
		if part.Body == nil || part.Body.Data == "" {
			continue
		}
		data, err := decodeBody(part.Body.Data)
		if err != nil {
			continue
		}
		switch part.MimeType {
		case "text/plain":
			text = data
		case "text/html":
			htmlBody = data
		}
	}

	if htmlBody != "" && text == "" {
		text = HTMLToText(htmlBody)
	}
	return text, htmlBody
}

// Gmail bodies are URL-safe base64, with or without padding
func decodeBody(data string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HTMLToText joins the trimmed text nodes of a document with single spaces
func HTMLToText(doc string) string {
	root, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	var parts []string
	for _, n := range root.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, " ")
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*parts = append(*parts, s)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// ExtractLinks returns every anchor with an href and visible text. Context
// is the text of the closest enclosing paragraph or div, or the title when
// there is none.
func ExtractLinks(htmlBody string) []Link {
	if htmlBody == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil
	}

	var links []Link
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		title := collapse(a.Text())
		if href == "" || title == "" {
			return
		}
		context := title
		if parent := a.Closest("p, div"); parent.Length() > 0 {
			context = collapse(parent.Text())
		}
		links = append(links, Link{URL: href, Title: title, Context: context})
	})
	return links
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
