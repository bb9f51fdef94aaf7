package extract

import "encoding/json"

// ParseFeedPage decodes one recommendation feed API response.
func ParseFeedPage(body []byte) (FeedPage, error) {
	var page FeedPage
	if err := json.Unmarshal(body, &page); err != nil {
		return FeedPage{}, &ExtractionError{Field: "feed", Cause: err}
	}
	return page, nil
}
