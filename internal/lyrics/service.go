package lyrics

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Classification describes what kind of lyrics data, if any, was obtained.
type Classification string

const (
	// ClassificationSynced marks lyrics carrying a non-empty parsed timeline.
	ClassificationSynced Classification = "SYNCED"
	// ClassificationUnsynced marks plain-text lyrics without timing data.
	ClassificationUnsynced Classification = "UNSYNCED"
	// ClassificationAbsent marks tracks the catalog has nothing usable for.
	ClassificationAbsent Classification = "ABSENT"
)

// Result is the outcome of a lyrics acquisition attempt.
// Classification is SYNCED iff Timeline is non-empty.
type Result struct {
	RawText        string
	Timeline       []TimedLine
	Classification Classification
}

// Synced reports whether the result carries a usable timeline.
func (r Result) Synced() bool {
	return r.Classification == ClassificationSynced && len(r.Timeline) > 0
}

// ErrMissingCatalog indicates the acquisition service was built without a catalog client.
var ErrMissingCatalog = errors.New("lyrics: catalog client is required")

// Catalog is the external lookup surface consumed by the acquisition service.
type Catalog interface {
	Lookup(ctx context.Context, artist, title string) *Track
}

// ServiceConfig describes the dependencies of the acquisition service.
type ServiceConfig struct {
	Catalog Catalog
	Logger  *zap.Logger
}

// Service acquires lyrics from the external catalog and classifies the
// outcome. Acquisition runs before any durable storage write in the upload
// workflow, so a missing or unsynced result must be cheap to obtain.
type Service struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewService constructs the acquisition service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, ErrMissingCatalog
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{catalog: cfg.Catalog, logger: logger}, nil
}

// AcquireSynced performs one bounded-time catalog lookup and classifies what
// came back. Transport failures, timeouts and empty records all classify as
// ABSENT; a record whose synced markup parses to an empty timeline is
// downgraded to ABSENT as well. The method never returns an error because
// absence of lyrics is data, not an exceptional condition.
func (s *Service) AcquireSynced(ctx context.Context, artist, title string) Result {
	track := s.catalog.Lookup(ctx, artist, title)
	if track == nil {
		s.logger.Debug("no catalog record",
			zap.String("artist", artist), zap.String("title", title))
		return Result{Classification: ClassificationAbsent}
	}

	if track.SyncedLyrics != "" {
		timeline := ParseTimeline(track.SyncedLyrics)
		if len(timeline) == 0 {
			// The catalog claimed synced markup but nothing was parseable.
			s.logger.Info("synced markup yielded empty timeline",
				zap.String("artist", artist), zap.String("title", title))
			return Result{RawText: track.PlainLyrics, Classification: ClassificationAbsent}
		}
		s.logger.Info("synced lyrics acquired",
			zap.String("artist", artist),
			zap.String("title", title),
			zap.Int("lines", len(timeline)))
		return Result{
			RawText:        track.PlainLyrics,
			Timeline:       timeline,
			Classification: ClassificationSynced,
		}
	}

	if track.PlainLyrics != "" {
		return Result{RawText: track.PlainLyrics, Classification: ClassificationUnsynced}
	}

	return Result{Classification: ClassificationAbsent}
}
