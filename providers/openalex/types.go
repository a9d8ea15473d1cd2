package openalex

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ListResponse ist die Top-Level-Struktur einer OpenAlex-Listenantwort.
type ListResponse[T any] struct {
	Meta struct {
		Count      int     `json:"count"`
		PerPage    int     `json:"per_page"`
		NextCursor *string `json:"next_cursor"`
	} `json:"meta"`
	Results []T `json:"results"`
}

// Work ist ein roher OpenAlex-Work-Datensatz. Die typisierten Felder decken ab, was der
// Ingest interpretiert; Raw hält das vollständige Objekt für Snapshots und verschachtelte Lookups.
type Work struct {
	ID                    string           `json:"id"`
	DOI                   *string          `json:"doi"`
	Title                 *string          `json:"title"`
	DisplayName           *string          `json:"display_name"`
	PublicationYear       *int             `json:"publication_year"`
	CitedByCount          *int             `json:"cited_by_count"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	OpenAccess            *OpenAccess      `json:"open_access"`
	Authorships           []Authorship     `json:"authorships"`

	Raw map[string]any `json:"-"`
}

// UnmarshalJSON dekodiert die typisierten Felder und zusätzlich das Rohobjekt.
// Zahlen im Rohobjekt bleiben json.Number, damit der Snapshot unverändert zurückgeschrieben wird.
func (w *Work) UnmarshalJSON(data []byte) error {
	type plain Work
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*w = Work(p)
	w.Raw = raw
	return nil
}

// OpenAccess beschreibt den Open-Access-Status eines Works.
type OpenAccess struct {
	IsOA  *bool   `json:"is_oa"`
	OAURL *string `json:"oa_url"`
}

// Authorship ist ein Autoreneintrag eines Works inkl. Affiliationen.
type Authorship struct {
	AuthorPosition        *string          `json:"author_position"`
	Author                AuthorRef        `json:"author"`
	Institutions          []InstitutionRef `json:"institutions"`
	RawAffiliationString  *string          `json:"raw_affiliation_string"`
	RawAffiliationStrings []string         `json:"raw_affiliation_strings"`
}

// RawAffiliation liefert die Affiliation so, wie sie im Paper steht.
// Neuere API-Versionen liefern nur noch die Liste, ältere nur den einzelnen String.
func (a Authorship) RawAffiliation() *string {
	if a.RawAffiliationString != nil && strings.TrimSpace(*a.RawAffiliationString) != "" {
		s := strings.TrimSpace(*a.RawAffiliationString)
		return &s
	}
	var parts []string
	for _, s := range a.RawAffiliationStrings {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	joined := strings.Join(parts, "; ")
	return &joined
}

// AuthorRef ist die verkürzte Autorendarstellung innerhalb einer Authorship.
type AuthorRef struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"display_name"`
	ORCID       *string `json:"orcid"`
}

// InstitutionRef ist die verkürzte Institutionsdarstellung innerhalb einer Authorship.
type InstitutionRef struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"display_name"`
	ROR         *string `json:"ror"`
	CountryCode *string `json:"country_code"`
	Type        *string `json:"type"`
}

// Institution ist ein Datensatz des /institutions-Endpunkts.
type Institution struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"display_name"`
	Type        *string `json:"type"`
	WorksCount  *int    `json:"works_count"`
	Geo         struct {
		City        *string `json:"city"`
		CountryCode *string `json:"country_code"`
	} `json:"geo"`
}

// ShortID entfernt das URL-Präfix einer OpenAlex-ID ("https://openalex.org/I123" -> "I123").
func ShortID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
