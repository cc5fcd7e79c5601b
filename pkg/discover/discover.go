// Package discover enumerates the metrics a run should convert. Three
// sources exist: the source database's schema (the richest, it knows each
// series' earliest timestamp), a walk of the archive tree, and a
// monitoring CSV export.
package discover

import (
	"context"

	"github.com/nicktill/whisperflux/pkg/identity"
)

// Target is one discovered unit of work. EarliestTS is the first stored
// timestamp the source knows for the series, 0 when unknown.
type Target struct {
	Ref        identity.MetricRef
	EarliestTS int64
}

// Source enumerates targets lazily. Discover re-queries on every call so a
// source can serve repeated runs; an error from visit stops the
// enumeration and comes back unchanged. An empty enumeration is not an
// error.
type Source interface {
	Name() string
	Discover(ctx context.Context, visit func(Target) error) error
}
