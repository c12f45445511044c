package sheets

import (
	"context"

	"wastewatch/internal/core"
)

// Ports for record storage and seeding.
type (
	// RecordStore keeps the dataset in insertion order, newest first.
	RecordStore interface {
		// Replace discards the current dataset.
		Replace(ctx context.Context, records []core.Record) error
		// Prepend stores r ahead of every existing record.
		Prepend(ctx context.Context, r core.Record) error
		// List returns a copy of the dataset.
		List(ctx context.Context) ([]core.Record, error)
	}

	// SeedReader provides raw record objects used to populate an empty
	// dataset at startup.
	SeedReader interface {
		ReadRecords(ctx context.Context) ([]map[string]any, error)
	}
)
