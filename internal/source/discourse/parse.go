package discourse

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"topic_syncer/internal/domain"
)

func parseCategories(doc *goquery.Document, sel Selectors, base *url.URL) []domain.Category {
	categories := make([]domain.Category, 0)
	seen := map[string]struct{}{}

	doc.Find(sel.CategoryRow).Each(func(_ int, row *goquery.Selection) {
		item := row.Find(sel.CategoryItem).First()
		if item.Length() == 0 {
			return
		}

		name := strings.TrimSpace(item.Find(sel.CategoryName).First().Text())
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}

		link := domain.NoLink
		if content, ok := item.Find(sel.CategoryLink).First().Attr("content"); ok && strings.TrimSpace(content) != "" {
			if resolved, ok := resolve(base, content); ok {
				link = resolved
			}
		}

		description := domain.NoDescription
		if desc := item.Find(sel.CategoryDesc).First(); desc.Length() > 0 {
			description = strings.TrimSpace(desc.Text())
		}

		categories = append(categories, domain.Category{
			Name:        name,
			ListingURL:  link,
			Description: description,
		})
	})

	return categories
}

func parseTopics(doc *goquery.Document, sel Selectors, listing *url.URL, limit int) []domain.TopicRef {
	topics := make([]domain.TopicRef, 0)

	doc.Find(sel.TopicLink).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if limit > 0 && len(topics) >= limit {
			return false
		}

		name := strings.TrimSpace(a.Text())
		href, _ := a.Attr("href")
		if name == "" || strings.TrimSpace(href) == "" {
			return true
		}

		link, ok := resolve(listing, href)
		if !ok {
			return true
		}

		topics = append(topics, domain.TopicRef{Name: name, URL: link})
		return true
	})

	return topics
}

func resolve(base *url.URL, ref string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	return base.ResolveReference(u).String(), true
}

// normalizeText joins every text node under sel with single spaces.
func normalizeText(sel *goquery.Selection) string {
	var words []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			words = append(words, strings.Fields(n.Data)...)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range sel.Nodes {
		walk(n)
	}

	return strings.Join(words, " ")
}
