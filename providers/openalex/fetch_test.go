package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scholar-ingest/config"
)

func testFetcher(baseURL string) *Fetcher {
	cfg := &config.Config{OpenAlexBaseURL: baseURL, OpenAlexPerPage: 2, OpenAlexEmail: "ops@example.org"}
	return NewFetcher(cfg, zap.NewNop())
}

func drainWorks(t *testing.T, it *WorkIterator) []string {
	t.Helper()
	var ids []string
	for {
		w, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}
}

func TestWorksCursorPagination(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	pages := map[string]string{
		"*":  `{"meta":{"count":3,"next_cursor":"c2"},"results":[{"id":"https://openalex.org/W1"},{"id":"https://openalex.org/W2"}]}`,
		"c2": `{"meta":{"count":3,"next_cursor":"c3"},"results":[{"id":"https://openalex.org/W3"}]}`,
		"c3": `{"meta":{"count":3,"next_cursor":null},"results":[]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.RawQuery)
		mu.Unlock()
		assert.Equal(t, "/works", r.URL.Path)
		assert.Equal(t, "institutions.id:I1|I2,publication_year:2026", r.URL.Query().Get("filter"))
		assert.Equal(t, "2", r.URL.Query().Get("per-page"))
		assert.Equal(t, "ops@example.org", r.URL.Query().Get("mailto"))
		body, ok := pages[r.URL.Query().Get("cursor")]
		if !ok {
			http.Error(w, "unknown cursor", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	it := testFetcher(srv.URL).Works(WorkFilter{
		InstitutionIDs:  []string{"https://openalex.org/I1", "I2"},
		PublicationYear: 2026,
	})
	ids := drainWorks(t, it)
	assert.Equal(t, []string{"https://openalex.org/W1", "https://openalex.org/W2", "https://openalex.org/W3"}, ids)
	assert.Len(t, seen, 3)
}

func TestWorksChunksInstitutionFilter(t *testing.T) {
	var filters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filters = append(filters, r.URL.Query().Get("filter"))
		fmt.Fprint(w, `{"meta":{"count":0,"next_cursor":null},"results":[]}`)
	}))
	defer srv.Close()

	ids := make([]string, 150)
	for i := range ids {
		ids[i] = fmt.Sprintf("I%d", i)
	}
	drainWorks(t, testFetcher(srv.URL).Works(WorkFilter{InstitutionIDs: ids}))
	require.Len(t, filters, 2)
	assert.Equal(t, 100, strings.Count(filters[0], "|")+1)
	assert.Equal(t, 50, strings.Count(filters[1], "|")+1)
}

func TestWorksMaxPages(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `{"meta":{"next_cursor":"c%d"},"results":[{"id":"W%d"}]}`, calls, calls)
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	f.Config.OpenAlexMaxPages = 2
	ids := drainWorks(t, f.Works(WorkFilter{PublicationYear: 2025}))
	assert.Equal(t, []string{"W1", "W2"}, ids)
}

func TestWorksHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testFetcher(srv.URL).Works(WorkFilter{}).Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestInstitutionsIterator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/institutions", r.URL.Path)
		assert.Equal(t, "country_code:MX", r.URL.Query().Get("filter"))
		fmt.Fprint(w, `{"meta":{"next_cursor":null},"results":[{"id":"https://openalex.org/I1","display_name":"UANL","geo":{"city":"San Nicolás de los Garza"}}]}`)
	}))
	defer srv.Close()

	it := testFetcher(srv.URL).Institutions("mx")
	inst, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://openalex.org/I1", inst.ID)
	require.NotNil(t, inst.Geo.City)
	assert.Equal(t, "San Nicolás de los Garza", *inst.Geo.City)

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestWorkUnmarshalKeepsRaw(t *testing.T) {
	var w Work
	err := json.Unmarshal([]byte(`{"id":"W9","cited_by_count":12,"host_venue":{"display_name":"Nature"},"authorships":[{"author":{"id":"A1"},"raw_affiliation_strings":["UANL"," FIME "]}]}`), &w)
	require.NoError(t, err)
	assert.Equal(t, "W9", w.ID)
	require.NotNil(t, w.CitedByCount)
	assert.Equal(t, 12, *w.CitedByCount)
	assert.Equal(t, json.Number("12"), w.Raw["cited_by_count"])
	assert.Contains(t, w.Raw, "host_venue")
	require.Len(t, w.Authorships, 1)
	require.NotNil(t, w.Authorships[0].RawAffiliation())
	assert.Equal(t, "UANL; FIME", *w.Authorships[0].RawAffiliation())
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "I123", ShortID("https://openalex.org/I123"))
	assert.Equal(t, "I123", ShortID(" I123 "))
}

func TestFileSource(t *testing.T) {
	input := `{"id":"W1","title":"First"}

{"id":"W2"}
{"id":"W3"}`
	src := NewReaderSource("works.jsonl", strings.NewReader(input))
	var ids []string
	for {
		w, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []string{"W1", "W2", "W3"}, ids)
}

func TestFileSourceBadLine(t *testing.T) {
	src := NewReaderSource("works.jsonl", strings.NewReader("{\"id\":\"W1\"}\nnot json\n"))
	_, err := src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "works.jsonl:2")
}
