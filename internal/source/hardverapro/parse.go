package hardverapro

import (
	"io"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"listing_watcher/internal/domain"
)

const pinnedDate = "pinned"

func parsePage(r io.Reader, page *url.URL, now time.Time) ([]domain.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, domain.NewParseError("parse listing page", err)
	}

	list := doc.Find("div.uad-list")
	if list.Length() == 0 || list.Find("ul li").Length() == 0 {
		return []domain.RawRecord{}, nil
	}

	records := make([]domain.RawRecord, 0, list.Find(".media").Length())
	list.Find(".media").Each(func(_ int, sel *goquery.Selection) {
		if rec, ok := parseEntry(sel, page, now); ok {
			records = append(records, rec)
		}
	})
	return records, nil
}

func parseEntry(sel *goquery.Selection, page *url.URL, now time.Time) (domain.RawRecord, bool) {
	rawID, ok := sel.Attr("data-uadid")
	if !ok {
		return domain.RawRecord{}, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return domain.RawRecord{}, false
	}

	link := sel.Find(".uad-col-title h1 a").First()
	title := strings.TrimSpace(link.Text())
	if title == "" {
		return domain.RawRecord{}, false
	}
	href, _ := link.Attr("href")

	info := sel.Find(".uad-col-info").First()
	date, pinned := parseDate(info.Find(".uad-time time").First().Text(), now)

	user := info.Find(".uad-user-text").First()
	sellerLink := user.Find("a").First()
	sellerURL, _ := sellerLink.Attr("href")
	image, _ := sel.Find("a img").First().Attr("src")

	return domain.RawRecord{
		ID:          id,
		Title:       title,
		URL:         resolve(page, href),
		Price:       parsePrice(sel.Find(".uad-price span").First().Text()),
		City:        strings.TrimSpace(info.Find(".uad-cities").First().Text()),
		Date:        date,
		Pinned:      pinned,
		SellerName:  strings.TrimSpace(sellerLink.Text()),
		SellerURL:   resolve(page, sellerURL),
		SellerRates: strings.TrimSpace(user.Find("span").First().Text()),
		Image:       resolve(page, image),
	}, true
}

var (
	millionPrice = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?)\s*M\s*Ft`)
	plainPrice   = regexp.MustCompile(`([0-9][0-9 \x{00a0}]*)\s*Ft`)
)

// parsePrice reads "100 000 Ft" and "1,5M Ft" style prices. "Keresem" and anything
// unrecognised yield nil.
func parsePrice(text string) *int64 {
	text = strings.TrimSpace(text)
	if text == "" || strings.EqualFold(text, "keresem") {
		return nil
	}

	if m := millionPrice.FindStringSubmatch(text); m != nil {
		f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			return nil
		}
		v := int64(math.Round(f * 1_000_000))
		return &v
	}

	if m := plainPrice.FindStringSubmatch(text); m != nil {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, m[1])
		v, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return nil
		}
		return &v
	}
	return nil
}

var (
	isoDate       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	todayDate     = regexp.MustCompile(`^ma (\d{2}:\d{2})`)
	yesterdayDate = regexp.MustCompile(`^tegnap (\d{2}:\d{2})`)
)

const dateLayout = "2006-01-02 15:04"

// parseDate normalises the relative Hungarian date labels to "YYYY-MM-DD HH:MM".
func parseDate(text string, now time.Time) (string, bool) {
	text = strings.TrimSpace(text)

	switch {
	case isoDate.MatchString(text):
		d, err := time.ParseInLocation("2006-01-02", text[:10], now.Location())
		if err != nil {
			return "", false
		}
		return d.Format(dateLayout), false
	case todayDate.MatchString(text):
		return clockOn(now, todayDate.FindStringSubmatch(text)[1]), false
	case yesterdayDate.MatchString(text):
		return clockOn(now.AddDate(0, 0, -1), yesterdayDate.FindStringSubmatch(text)[1]), false
	case strings.EqualFold(text, "előresorolva"):
		return pinnedDate, true
	}
	return "", false
}

func clockOn(day time.Time, hhmm string) string {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return ""
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()).Format(dateLayout)
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
