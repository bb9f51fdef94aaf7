package extract

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ratingClassRe = regexp.MustCompile(`allstar(\d+)`)

// ParseCommentPage extracts the short reviews from one comment listing page.
// An empty page is not an error; it signals exhaustion to the walker.
func ParseCommentPage(body []byte) (CommentPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return CommentPage{}, &ExtractionError{Field: "document", Cause: err}
	}

	var page CommentPage
	doc.Find("div.comment-item").Each(func(_ int, item *goquery.Selection) {
		comment := Comment{
			CommentID:   item.AttrOr("data-cid", ""),
			Username:    strings.TrimSpace(item.Find("span.comment-info a").First().Text()),
			Rating:      parseRating(item),
			Content:     strings.TrimSpace(item.Find("p.comment-content span.short").Text()),
			UsefulCount: parseVotes(item),
			CommentTime: strings.TrimSpace(item.Find("span.comment-time").AttrOr("title", "")),
		}
		if comment.CommentID == "" || comment.Content == "" {
			return
		}
		page.Comments = append(page.Comments, comment)
	})

	page.HasNext = doc.Find("div#paginator a.next").Length() > 0 ||
		doc.Find("a.next[href]").Length() > 0
	return page, nil
}

// parseRating maps the allstarNN class to a 1-5 star count, zero if unrated.
func parseRating(item *goquery.Selection) int {
	class := item.Find("span.comment-info span.rating").AttrOr("class", "")
	m := ratingClassRe.FindStringSubmatch(class)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n / 10
}

func parseVotes(item *goquery.Selection) int {
	raw := strings.TrimSpace(item.Find("span.votes").First().Text())
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
