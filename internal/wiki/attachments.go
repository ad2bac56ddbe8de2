package wiki

import (
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// !image.png!, !>image.png!, !image.png(title)!
	textileImageRE = regexp.MustCompile(`!([<>=]?)([^!\s(]+)(\([^)]*\))?!`)
	// attachment:file.pdf or attachment:"file name.pdf"
	attachmentLinkRE = regexp.MustCompile(`attachment:(?:"([^"]+)"|([^\s"<>]+))`)
	// opening <img> and <a> tags
	htmlTagRE = regexp.MustCompile(`(?i)<(?:img|a)\b[^>]*>`)
)

// URLs maps attachment file names to uploaded URLs. Lookups ignore case.
type URLs map[string]string

func (u URLs) lookup(ref string) (string, bool) {
	if url, ok := u[ref]; ok {
		return url, true
	}
	name := path.Base(ref)
	for file, url := range u {
		if strings.EqualFold(file, name) {
			return url, true
		}
	}
	return "", false
}

// RewriteAttachments replaces references to page attachments with their
// upload URLs: Textile images, attachment: links and HTML img/a tags.
// Unknown references are left alone.
func RewriteAttachments(text string, urls URLs) string {
	if len(urls) == 0 || text == "" {
		return text
	}

	text = textileImageRE.ReplaceAllStringFunc(text, func(m string) string {
		sub := textileImageRE.FindStringSubmatch(m)
		url, ok := urls.lookup(sub[2])
		if !ok {
			return m
		}
		return "!" + sub[1] + url + sub[3] + "!"
	})

	text = attachmentLinkRE.ReplaceAllStringFunc(text, func(m string) string {
		sub := attachmentLinkRE.FindStringSubmatch(m)
		name, trailing := sub[1], ""
		if name == "" {
			name = sub[2]
			if _, ok := urls.lookup(name); !ok {
				trimmed := strings.TrimRight(name, ".,;:!?)")
				name, trailing = trimmed, name[len(trimmed):]
			}
		}
		url, ok := urls.lookup(name)
		if !ok {
			return m
		}
		return `"` + name + `":` + url + trailing
	})

	return htmlTagRE.ReplaceAllStringFunc(text, func(tag string) string {
		return rewriteTag(tag, urls)
	})
}

// rewriteTag rewrites the src or href of a single opening tag.
func rewriteTag(tag string, urls URLs) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tag))
	if err != nil {
		return tag
	}
	sel := doc.Find("img, a").First()
	if sel.Length() == 0 {
		return tag
	}
	attr := "src"
	if goquery.NodeName(sel) == "a" {
		attr = "href"
	}
	ref, ok := sel.Attr(attr)
	if !ok || strings.Contains(ref, "://") {
		return tag
	}
	url, ok := urls.lookup(ref)
	if !ok {
		return tag
	}
	sel.SetAttr(attr, url)
	out, err := goquery.OuterHtml(sel)
	if err != nil {
		return tag
	}
	// The closing tag stays where it was in the text.
	return strings.TrimSuffix(out, "</a>")
}
