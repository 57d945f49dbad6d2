package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JonMunkholm/segexport/internal/download"
	"github.com/JonMunkholm/segexport/internal/segment"
	"github.com/JonMunkholm/segexport/internal/source"
	"github.com/JonMunkholm/segexport/internal/workbook"
)

// exportAll drives one operation from Begin to Cleanup against an
// in-process store and returns the packaged output.
func exportAll(ctx context.Context, src source.Source, settings download.Settings, fileName string, forceZip bool) (*download.Result, error) {
	dl, err := download.NewSourceDownloader(settings, src)
	if err != nil {
		return nil, err
	}

	exports := download.New[uuid.UUID](segment.NewMemoryStore(uuid.New), dl, download.Config{
		Format:   workbook.DefaultFormat,
		FileName: fileName,
	})

	id, err := exports.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := exports.Cleanup(context.WithoutCancel(ctx), id); err != nil {
			slog.Warn("cleanup failed", "operation_id", id, "error", err)
		}
	}()

	for page := 1; ; page++ {
		more, rows, err := exports.Continue(ctx, id, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		slog.Debug("page exported", "page", page, "rows", rows)
		if !more {
			break
		}
	}

	result, err := exports.Complete(ctx, id, download.WithForceZip(forceZip))
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return result, nil
}
