package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"scholar-ingest/config"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// maxOrValues ist die Obergrenze von OpenAlex für OR-verknüpfte Werte in einem Filter.
const maxOrValues = 100

// Fetcher kapselt die Logik zur Interaktion mit der OpenAlex-API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	Client *http.Client
}

// NewFetcher erstellt einen neuen OpenAlex-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger, Client: httpClient}
}

// WorkFilter schränkt die abgefragten Works ein.
type WorkFilter struct {
	InstitutionIDs  []string
	PublicationYear int
}

// Works liefert einen Iterator über alle Works, die zum Filter passen. Jeder Aufruf beginnt
// die Paginierung von vorn.
func (f *Fetcher) Works(filter WorkFilter) *WorkIterator {
	var queries []url.Values
	base := []string{}
	if filter.PublicationYear > 0 {
		base = append(base, "publication_year:"+strconv.Itoa(filter.PublicationYear))
	}
	if len(filter.InstitutionIDs) == 0 {
		queries = append(queries, filterQuery(base))
	}
	for start := 0; start < len(filter.InstitutionIDs); start += maxOrValues {
		end := start + maxOrValues
		if end > len(filter.InstitutionIDs) {
			end = len(filter.InstitutionIDs)
		}
		short := make([]string, 0, end-start)
		for _, id := range filter.InstitutionIDs[start:end] {
			short = append(short, ShortID(id))
		}
		parts := append([]string{"institutions.id:" + strings.Join(short, "|")}, base...)
		queries = append(queries, filterQuery(parts))
	}
	return &WorkIterator{pager: newPager[Work](f, "/works", queries)}
}

// Institutions liefert einen Iterator über alle Institutionen eines Landes.
func (f *Fetcher) Institutions(countryCode string) *InstitutionIterator {
	var parts []string
	if countryCode != "" {
		parts = append(parts, "country_code:"+strings.ToUpper(countryCode))
	}
	return &InstitutionIterator{pager: newPager[Institution](f, "/institutions", []url.Values{filterQuery(parts)})}
}

func filterQuery(parts []string) url.Values {
	q := url.Values{}
	if len(parts) > 0 {
		q.Set("filter", strings.Join(parts, ","))
	}
	return q
}

// WorkIterator paginiert per Cursor über /works.
type WorkIterator struct {
	pager *pager[Work]
}

// Name gibt den Namen der Quelle zurück.
func (it *WorkIterator) Name() string { return "openalex" }

// Next liefert das nächste Work oder io.EOF, wenn alle Seiten gelesen sind.
func (it *WorkIterator) Next(ctx context.Context) (*Work, error) {
	w, err := it.pager.next(ctx)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// InstitutionIterator paginiert per Cursor über /institutions.
type InstitutionIterator struct {
	pager *pager[Institution]
}

// Next liefert die nächste Institution oder io.EOF.
func (it *InstitutionIterator) Next(ctx context.Context) (*Institution, error) {
	inst, err := it.pager.next(ctx)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

type pager[T any] struct {
	f       *Fetcher
	path    string
	queries []url.Values
	q       int
	cursor  string
	pages   int
	buf     []T
}

func newPager[T any](f *Fetcher, path string, queries []url.Values) *pager[T] {
	return &pager[T]{f: f, path: path, queries: queries, cursor: "*"}
}

func (p *pager[T]) next(ctx context.Context) (T, error) {
	var zero T
	for len(p.buf) == 0 {
		if p.q >= len(p.queries) {
			return zero, io.EOF
		}
		maxPages := p.f.Config.OpenAlexMaxPages
		if p.cursor == "" || (maxPages > 0 && p.pages >= maxPages) {
			p.q++
			p.cursor = "*"
			p.pages = 0
			continue
		}

		page, err := p.fetchPage(ctx)
		if err != nil {
			return zero, err
		}
		p.pages++
		p.buf = page.Results
		if page.Meta.NextCursor == nil || *page.Meta.NextCursor == "" || len(page.Results) == 0 {
			p.cursor = ""
		} else {
			p.cursor = *page.Meta.NextCursor
		}
	}
	item := p.buf[0]
	p.buf = p.buf[1:]
	return item, nil
}

func (p *pager[T]) fetchPage(ctx context.Context) (*ListResponse[T], error) {
	cfg := p.f.Config
	q := url.Values{}
	for k, v := range p.queries[p.q] {
		q[k] = v
	}
	q.Set("per-page", strconv.Itoa(cfg.OpenAlexPerPage))
	q.Set("cursor", p.cursor)
	if cfg.OpenAlexAPIKey != "" {
		q.Set("api_key", cfg.OpenAlexAPIKey)
	}
	if cfg.OpenAlexEmail != "" {
		q.Set("mailto", cfg.OpenAlexEmail)
	}
	pageURL := strings.TrimRight(cfg.OpenAlexBaseURL, "/") + p.path + "?" + q.Encode()

	log := p.f.Logger.With(zap.String("path", p.path), zap.Int("page", p.pages+1), zap.String("filter", q.Get("filter")))
	log.Debug("Rufe OpenAlex-Seite ab")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openalex request %s: %w", p.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Error("OpenAlex-API hat nicht-200-Status zurückgegeben",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, fmt.Errorf("openalex %s failed: status %d", p.path, resp.StatusCode)
	}

	var page ListResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode openalex %s page: %w", p.path, err)
	}
	log.Debug("OpenAlex-Seite erhalten", zap.Int("results", len(page.Results)), zap.Int("total", page.Meta.Count))
	return &page, nil
}
