package extract

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ParseMovieInfo extracts structured movie fields from a detail page.
func ParseMovieInfo(movieID string, body []byte) (MovieInfo, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return MovieInfo{}, &ExtractionError{Field: "document", Cause: err}
	}

	fullName := strings.TrimSpace(doc.Find(`h1 span[property="v:itemreviewed"]`).First().Text())
	if fullName == "" {
		return MovieInfo{}, &ExtractionError{Field: "full_name"}
	}
	chineseName, originalName := SeparateMovieName(fullName)

	releaseDate, err := parseReleaseDate(doc)
	if err != nil {
		return MovieInfo{}, err
	}

	score, err := parseScore(doc)
	if err != nil {
		return MovieInfo{}, err
	}

	info := MovieInfo{
		MovieID:      movieID,
		FullName:     fullName,
		ChineseName:  chineseName,
		OriginalName: originalName,
		ReleaseDate:  releaseDate,
		Score:        score,
		Directors:    parseArtists(doc.Find(`#info a[rel="v:directedBy"]`)),
		Writers:      parseWriters(doc),
		Actors:       parseArtists(doc.Find(`#info a[rel="v:starring"]`)),
		Genres:       parseGenres(doc),
		Countries:    parseCountries(doc),
		Summary:      parseSummary(doc),
		Icon:         doc.Find("div#mainpic img").AttrOr("src", ""),
	}
	return info, nil
}

// SeparateMovieName splits the full title into its Chinese part and the
// remainder (the original-language title, when present).
func SeparateMovieName(fullName string) (string, string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func parseReleaseDate(doc *goquery.Document) (time.Time, error) {
	raw := strings.TrimSpace(doc.Find(`span[property="v:initialReleaseDate"]`).First().Text())
	if raw == "" {
		return time.Time{}, &ExtractionError{Field: "release_date"}
	}
	// The earliest date is listed first, suffixed with a region tag.
	if len(raw) > 10 {
		raw = raw[:10]
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, &ExtractionError{Field: "release_date", Cause: err}
	}
	return date, nil
}

func parseScore(doc *goquery.Document) (float64, error) {
	raw := strings.TrimSpace(doc.Find("strong.rating_num").First().Text())
	if raw == "" {
		return 0, &ExtractionError{Field: "score"}
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ExtractionError{Field: "score", Cause: err}
	}
	return score, nil
}

func parseArtists(sel *goquery.Selection) []Artist {
	var artists []Artist
	sel.Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.Text())
		if name == "" {
			return
		}
		artists = append(artists, Artist{
			ArtistID: artistIDFromHref(s.AttrOr("href", "")),
			Name:     name,
		})
	})
	return artists
}

// parseWriters walks the #info label spans; writers have no rel attribute,
// so they are located by their label followed by the attrs span.
func parseWriters(doc *goquery.Document) []Artist {
	var writers []Artist
	doc.Find("#info span.pl").Each(func(_ int, s *goquery.Selection) {
		if !strings.Contains(s.Text(), "编剧") {
			return
		}
		attrs := s.NextAllFiltered("span.attrs").First()
		if attrs.Length() == 0 {
			attrs = s.Parent().Find("span.attrs").First()
		}
		writers = parseArtists(attrs.Find("a"))
	})
	return writers
}

func artistIDFromHref(href string) string {
	href = strings.Trim(href, "/")
	if href == "" {
		return ""
	}
	parts := strings.Split(href, "/")
	return parts[len(parts)-1]
}

func parseGenres(doc *goquery.Document) []string {
	var genres []string
	doc.Find(`span[property="v:genre"]`).Each(func(_ int, s *goquery.Selection) {
		if g := strings.TrimSpace(s.Text()); g != "" {
			genres = append(genres, g)
		}
	})
	return genres
}

// parseCountries reads the bare text node that follows the country label,
// which carries slash-separated region names outside any element.
func parseCountries(doc *goquery.Document) []string {
	var countries []string
	doc.Find("#info span.pl").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), "制片国家") && !strings.Contains(s.Text(), "地区") {
			return true
		}
		for node := s.Get(0).NextSibling; node != nil; node = node.NextSibling {
			if node.Type != html.TextNode {
				continue
			}
			for _, c := range strings.Split(node.Data, "/") {
				if c = strings.TrimSpace(c); c != "" {
					countries = append(countries, c)
				}
			}
			break
		}
		return false
	})
	return countries
}

func parseSummary(doc *goquery.Document) string {
	var parts []string
	doc.Find(`span[property="v:summary"]`).Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, s.Text())
	})
	return strings.TrimSpace(strings.Join(parts, ""))
}
