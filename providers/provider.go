package providers

import (
	"context"

	"scholar-ingest/providers/openalex"
)

// WorkSource ist das Interface, das jede Quelle roher Works implementieren muss
// (OpenAlex-API, JSON-Lines-Snapshot, ...). Eine Quelle wird einmal vollständig gelesen;
// für einen neuen Durchlauf wird eine neue Quelle erzeugt.
type WorkSource interface {
	// Next liefert das nächste Work oder io.EOF, wenn die Quelle erschöpft ist.
	Next(ctx context.Context) (*openalex.Work, error)

	// Name gibt den Namen der Quelle für Logs zurück.
	Name() string
}

// InstitutionSource liefert Institutionen für das Katalog-Seeding.
type InstitutionSource interface {
	Next(ctx context.Context) (*openalex.Institution, error)
}

var (
	_ WorkSource        = (*openalex.WorkIterator)(nil)
	_ WorkSource        = (*openalex.FileSource)(nil)
	_ InstitutionSource = (*openalex.InstitutionIterator)(nil)
)
