package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"

	"scholar-ingest/models"
	"scholar-ingest/providers/openalex"
)

// ErrMissingIdentifier wird zurückgegeben, wenn ein Work keine OpenAlex-ID hat.
var ErrMissingIdentifier = errors.New("work has no canonical identifier")

// Membership ist der Stand der Kataloge für eine Batch: welche der referenzierten
// Institutionen und Autoren bereits persistiert sind.
type Membership struct {
	Institutions map[string]struct{}
	Authors      map[string]struct{}
}

// NewMembership baut eine Membership aus ID-Listen.
func NewMembership(institutionIDs, authorIDs []string) Membership {
	m := Membership{
		Institutions: make(map[string]struct{}, len(institutionIDs)),
		Authors:      make(map[string]struct{}, len(authorIDs)),
	}
	for _, id := range institutionIDs {
		m.Institutions[id] = struct{}{}
	}
	for _, id := range authorIDs {
		m.Authors[id] = struct{}{}
	}
	return m
}

func (m Membership) HasInstitution(id string) bool {
	_, ok := m.Institutions[id]
	return ok
}

func (m Membership) HasAuthor(id string) bool {
	_, ok := m.Authors[id]
	return ok
}

// PivotAuthor ist ein Kandidat für academic_metadata_authors, einer pro Authorship.
type PivotAuthor struct {
	AuthorOpenAlexID string
	AuthorPosition   *string
	RawAffiliation   *string
}

// Bundle ist das kanonische Ergebnis der Normalisierung eines Works. Document und Metadata
// werden über CanonicalIdentifier zusammengeführt, sobald die Document-ID feststeht.
type Bundle struct {
	CanonicalIdentifier string
	Document            models.Document
	// nil, wenn das Work keine DOI hat
	Metadata       *models.AcademicMetadata
	Authors        []models.Author
	PivotAuthors   []PivotAuthor
	InstitutionIDs []string
}

// Normalizer wandelt rohe OpenAlex-Works in Bundles um. Er hat keinen eigenen Zustand;
// der Katalogstand wird pro Aufruf übergeben.
type Normalizer struct {
	SourceType string
}

// NewNormalizer erstellt einen Normalizer für OpenAlex-Works.
func NewNormalizer() *Normalizer {
	return &Normalizer{SourceType: models.SourceTypeOpenAlex}
}

// Normalize baut das Bundle für ein Work. Institutionen, die nicht in known enthalten sind,
// werden nicht verknüpft.
func (n *Normalizer) Normalize(w *openalex.Work, known Membership) (*Bundle, error) {
	if w == nil || strings.TrimSpace(w.ID) == "" {
		return nil, ErrMissingIdentifier
	}
	id := strings.TrimSpace(w.ID)

	title := cleanTextPtr(w.Title)
	if title == nil {
		title = cleanTextPtr(w.DisplayName)
	}

	b := &Bundle{
		CanonicalIdentifier: id,
		Document: models.Document{
			SourceType:          n.SourceType,
			CanonicalIdentifier: id,
			Title:               title,
			RawText:             cleanTextPtr(ReconstructAbstract(w.AbstractInvertedIndex)),
		},
	}

	seenInstitutions := map[string]bool{}
	seenAuthors := map[string]bool{}
	for _, a := range w.Authorships {
		for _, inst := range a.Institutions {
			instID := strings.TrimSpace(inst.ID)
			if instID == "" || seenInstitutions[instID] || !known.HasInstitution(instID) {
				continue
			}
			seenInstitutions[instID] = true
			b.InstitutionIDs = append(b.InstitutionIDs, instID)
		}

		authorID := strings.TrimSpace(a.Author.ID)
		if authorID == "" {
			continue
		}
		b.PivotAuthors = append(b.PivotAuthors, PivotAuthor{
			AuthorOpenAlexID: authorID,
			AuthorPosition:   a.AuthorPosition,
			RawAffiliation:   a.RawAffiliation(),
		})
		if seenAuthors[authorID] {
			continue
		}
		seenAuthors[authorID] = true
		b.Authors = append(b.Authors, models.Author{
			OpenAlexID:             authorID,
			DisplayName:            cleanTextPtr(a.Author.DisplayName),
			ORCID:                  a.Author.ORCID,
			LastKnownInstitutionID: firstKnownInstitution(a, known),
		})
	}

	doi := ""
	if w.DOI != nil {
		doi = NormalizeDOI(*w.DOI)
	}
	if doi == "" {
		return b, nil
	}

	meta, err := n.metadata(w, doi)
	if err != nil {
		return nil, fmt.Errorf("build metadata for %s: %w", id, err)
	}
	b.Metadata = meta
	return b, nil
}

func (n *Normalizer) metadata(w *openalex.Work, doi string) (*models.AcademicMetadata, error) {
	meta := &models.AcademicMetadata{
		DOI: &doi,
		JournalName: firstString(w.Raw,
			[]string{"host_venue", "display_name"},
			[]string{"primary_location", "source", "display_name"}),
		Publisher: firstString(w.Raw,
			[]string{"host_venue", "publisher"},
			[]string{"primary_location", "source", "host_organization_name"}),
		ISSN: firstString(w.Raw,
			[]string{"host_venue", "issn_l"},
			[]string{"primary_location", "source", "issn_l"}),
		PublicationYear: w.PublicationYear,
		CitationCount:   w.CitedByCount,
	}
	if w.OpenAccess != nil {
		meta.IsOpenAccess = w.OpenAccess.IsOA
		meta.OpenAccessURL = w.OpenAccess.OAURL
	}

	var authorships any = w.Authorships
	if len(w.Authorships) == 0 {
		authorships = []any{}
	}
	var err error
	if meta.Authors, err = rawJSON(w.Raw, "authorships", authorships); err != nil {
		return nil, err
	}
	if meta.Institutions, err = toJSON(rawInstitutions(w)); err != nil {
		return nil, err
	}
	if meta.Concepts, err = rawJSON(w.Raw, "concepts", []any{}); err != nil {
		return nil, err
	}
	var source any = w.Raw
	if w.Raw == nil {
		source = w
	}
	if meta.RawSource, err = toJSON(source); err != nil {
		return nil, err
	}
	return meta, nil
}

// ReconstructAbstract setzt den Abstract aus dem invertierten Index (Wort -> Positionen)
// wieder zusammen. Die Reihenfolge hängt nur von den Positionen ab, nicht von der
// Iterationsreihenfolge der Map. Ein leerer Index ergibt nil.
func ReconstructAbstract(index map[string][]int) *string {
	type token struct {
		pos  int
		word string
	}
	var tokens []token
	for word, positions := range index {
		for _, pos := range positions {
			tokens = append(tokens, token{pos: pos, word: word})
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].pos != tokens[j].pos {
			return tokens[i].pos < tokens[j].pos
		}
		return tokens[i].word < tokens[j].word
	})
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.word
	}
	abstract := strings.Join(words, " ")
	return &abstract
}

// ReferencedIDs sammelt alle Institutions- und Autoren-IDs, die in works vorkommen,
// sortiert und ohne Duplikate.
func ReferencedIDs(works []*openalex.Work) (institutionIDs, authorIDs []string) {
	insts := map[string]struct{}{}
	authors := map[string]struct{}{}
	for _, w := range works {
		if w == nil {
			continue
		}
		for _, a := range w.Authorships {
			if id := strings.TrimSpace(a.Author.ID); id != "" {
				authors[id] = struct{}{}
			}
			for _, inst := range a.Institutions {
				if id := strings.TrimSpace(inst.ID); id != "" {
					insts[id] = struct{}{}
				}
			}
		}
	}
	return sortedKeys(insts), sortedKeys(authors)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func firstKnownInstitution(a openalex.Authorship, known Membership) *string {
	for _, inst := range a.Institutions {
		id := strings.TrimSpace(inst.ID)
		if id != "" && known.HasInstitution(id) {
			return &id
		}
	}
	return nil
}

// rawInstitutions sammelt die Institutionsobjekte aller Authorships, ungefiltert.
func rawInstitutions(w *openalex.Work) []any {
	out := []any{}
	if authorships, ok := LookupSlice(w.Raw, "authorships"); ok {
		for _, a := range authorships {
			if insts, ok := LookupSlice(a, "institutions"); ok {
				out = append(out, insts...)
			}
		}
		return out
	}
	for _, a := range w.Authorships {
		for _, inst := range a.Institutions {
			out = append(out, inst)
		}
	}
	return out
}

func rawJSON(raw map[string]any, key string, fallback any) (datatypes.JSON, error) {
	if v, ok := Lookup(raw, key); ok {
		return toJSON(v)
	}
	return toJSON(fallback)
}

func toJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
