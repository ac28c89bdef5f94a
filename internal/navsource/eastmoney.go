package navsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

const (
	DefaultEastmoneyBaseURL = "http://fund.eastmoney.com"
	DefaultHistoryBaseURL   = "http://api.fund.eastmoney.com"
	historyReferer          = "http://fundf10.eastmoney.com/"
)

// "单位净值(2024-03-01)1.2345-0.31%" as rendered in the fund page summary block
var unitNavPattern = regexp.MustCompile(`单位净值\s*\((\d{4}-\d{2}-\d{2})\)\s*(\d+\.\d{4})`)

// EastmoneyClient scrapes the fund page for the published NAV and reads the
// history listing API for backfill
type EastmoneyClient struct {
	clientConfig
	historyBaseURL string
}

// NewEastmoneyClient creates a client for the fund page and history API
func NewEastmoneyClient(historyBaseURL string, opts ...ClientOption) *EastmoneyClient {
	if historyBaseURL == "" {
		historyBaseURL = DefaultHistoryBaseURL
	}
	return &EastmoneyClient{
		clientConfig:   newClientConfig(DefaultEastmoneyBaseURL, opts),
		historyBaseURL: strings.TrimRight(historyBaseURL, "/"),
	}
}

// Name identifies the source
func (c *EastmoneyClient) Name() string { return "eastmoney" }

// FetchNav scrapes the fund page. The summary block carries the NAV together
// with its date; a page without both is a failure.
func (c *EastmoneyClient) FetchNav(ctx context.Context, code string) (Quote, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/%s.html", c.baseURL, code), nil)
	if err != nil {
		return Quote{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Quote{}, fmt.Errorf("%w: parse html: %v", ErrSourceUnavailable, err)
	}

	dateStr, navStr, ok := findUnitNav(doc)
	if !ok {
		return Quote{}, fmt.Errorf("%w: unit nav not found on page", ErrSourceUnavailable)
	}

	nav, err := decimal.NewFromString(navStr)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: bad nav %q", ErrSourceUnavailable, navStr)
	}
	asOf, err := parseDate(dateStr)
	if err != nil {
		return Quote{}, err
	}

	return Quote{Code: code, Nav: nav, AsOf: asOf, Source: c.Name()}, nil
}

func findUnitNav(doc *goquery.Document) (date, nav string, ok bool) {
	doc.Find("dl.dataItem02").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := unitNavPattern.FindStringSubmatch(compactText(s.Text())); m != nil {
			date, nav, ok = m[1], m[2], true
			return false
		}
		return true
	})
	if ok {
		return date, nav, ok
	}

	// older page layout
	navText := strings.TrimSpace(doc.Find("span.ui-font-large").First().Text())
	dateText := strings.Trim(strings.TrimSpace(doc.Find("span.ui-date").First().Text()), "()（）")
	if navText != "" && dateText != "" {
		return dateText, navText, true
	}
	return "", "", false
}

func compactText(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// FetchHistory reads up to maxDays recent entries from the history listing API
func (c *EastmoneyClient) FetchHistory(ctx context.Context, code string, maxDays int) ([]HistoryPoint, error) {
	if maxDays <= 0 {
		maxDays = 30
	}
	q := url.Values{}
	q.Set("fundCode", code)
	q.Set("pageIndex", "1")
	q.Set("pageSize", strconv.Itoa(maxDays))

	body, err := c.get(ctx, c.historyBaseURL+"/f10/lsjz?"+q.Encode(), map[string]string{"Referer": historyReferer})
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSourceUnavailable, err)
	}

	raw, err := jsonpath.Get("$.Data.LSJZList", doc)
	if err != nil {
		return nil, fmt.Errorf("%w: history list: %v", ErrSourceUnavailable, err)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: history list has unexpected shape", ErrSourceUnavailable)
	}

	points := make([]HistoryPoint, 0, len(list))
	for _, item := range list {
		dateStr, err := stringAt(item, "$.FSRQ")
		if err != nil {
			continue
		}
		navStr, err := stringAt(item, "$.DWJZ")
		if err != nil {
			continue
		}
		d, err := parseDate(dateStr)
		if err != nil {
			continue
		}
		nav, err := decimal.NewFromString(navStr)
		if err != nil {
			continue
		}
		points = append(points, HistoryPoint{Date: d, Nav: nav})
	}

	c.logger.Debug().Str("fund", code).Int("points", len(points)).Msg("nav history fetched")
	return points, nil
}
