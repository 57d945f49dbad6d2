package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/segexport/internal/source"
	"github.com/JonMunkholm/segexport/internal/tabular"
)

// Downloader supplies the per-export configuration and the page query.
type Downloader interface {
	PageSize() int
	MinZipSegments() int
	SegmentsPerEntry() int
	EntryName(index, total int) string
	QueryPage(ctx context.Context, pageNumber, pageSize int) (*tabular.Table, error)
}

// Initializer is implemented by downloaders that need setup keyed by a new
// operation id. OnBegin runs after the store creates the operation.
type Initializer[ID comparable] interface {
	OnBegin(ctx context.Context, id ID) error
}

// Default settings.
const (
	DefaultPageSize         = 1000
	DefaultMinZipSegments   = 50
	DefaultSegmentsPerEntry = 50
	DefaultEntryPrefix      = "part"
)

// Settings is the configuration half of a Downloader.
type Settings struct {
	PageSize         int
	MinZipSegments   int
	SegmentsPerEntry int
	EntryPrefix      string
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		PageSize:         DefaultPageSize,
		MinZipSegments:   DefaultMinZipSegments,
		SegmentsPerEntry: DefaultSegmentsPerEntry,
		EntryPrefix:      DefaultEntryPrefix,
	}
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	if s.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page size must be at least 1, got %d", s.PageSize))
	}
	if s.MinZipSegments < 1 {
		errs = append(errs, fmt.Errorf("min zip segments must be at least 1, got %d", s.MinZipSegments))
	}
	if s.SegmentsPerEntry < 1 {
		errs = append(errs, fmt.Errorf("segments per entry must be at least 1, got %d", s.SegmentsPerEntry))
	}
	return errors.Join(errs...)
}

// SourceDownloader is a Downloader backed by a query source.
type SourceDownloader struct {
	settings Settings
	source   source.Source
}

// NewSourceDownloader validates settings and binds them to src.
func NewSourceDownloader(settings Settings, src source.Source) (*SourceDownloader, error) {
	if src == nil {
		return nil, errors.New("source is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid downloader settings: %w", err)
	}
	if settings.EntryPrefix == "" {
		settings.EntryPrefix = DefaultEntryPrefix
	}
	return &SourceDownloader{settings: settings, source: src}, nil
}

func (d *SourceDownloader) PageSize() int         { return d.settings.PageSize }
func (d *SourceDownloader) MinZipSegments() int   { return d.settings.MinZipSegments }
func (d *SourceDownloader) SegmentsPerEntry() int { return d.settings.SegmentsPerEntry }

// EntryName yields "<prefix>-001-of-012.xlsx".
func (d *SourceDownloader) EntryName(index, total int) string {
	return fmt.Sprintf("%s-%03d-of-%03d.xlsx", d.settings.EntryPrefix, index+1, total)
}

func (d *SourceDownloader) QueryPage(ctx context.Context, pageNumber, pageSize int) (*tabular.Table, error) {
	return d.source.Query(ctx, pageNumber, pageSize)
}
