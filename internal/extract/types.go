// Package extract maps raw catalog markup to structured fields. Everything
// here is pure: no network, no side effects, so the crawl engine can treat
// it as a replaceable collaborator.
package extract

import (
	"fmt"
	"time"
)

// ExtractionError reports that expected markup was missing or malformed.
// Re-fetching the same page will not fix a markup change, so the crawl engine
// must not retry these at the transport level.
type ExtractionError struct {
	Field string
	Cause error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extract %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("extract %s: selector matched nothing", e.Field)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// Artist is one credited person with their stable external ID.
type Artist struct {
	ArtistID string `json:"artist_id"`
	Name     string `json:"name"`
}

// MovieInfo is the structured result of one movie detail page.
type MovieInfo struct {
	MovieID      string    `json:"movie_id"`
	FullName     string    `json:"full_name"`
	ChineseName  string    `json:"chinese_name"`
	OriginalName string    `json:"original_name"`
	ReleaseDate  time.Time `json:"release_date"`
	Score        float64   `json:"score"`
	Directors    []Artist  `json:"directors"`
	Writers      []Artist  `json:"writers"`
	Actors       []Artist  `json:"actors"`
	Genres       []string  `json:"genres"`
	Countries    []string  `json:"countries"`
	Summary      string    `json:"summary"`
	Icon         string    `json:"icon"`
}

// Comment is one short review scraped from a comment listing page.
type Comment struct {
	CommentID   string `json:"comment_id"`
	Username    string `json:"username"`
	Rating      int    `json:"rating"`
	Content     string `json:"content"`
	UsefulCount int    `json:"useful_count"`
	CommentTime string `json:"comment_time"`
}

// CommentPage is one page of a comment listing. Zero comments or a missing
// next-page indicator both signal exhaustion to the pagination walker.
type CommentPage struct {
	Comments []Comment
	HasNext  bool
}

// FeedItem is one entry of the recommendation feed.
type FeedItem struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// FeedPage is one page of the recommendation feed API response.
type FeedPage struct {
	Start int        `json:"start"`
	Count int        `json:"count"`
	Items []FeedItem `json:"items"`
}
