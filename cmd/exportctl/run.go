package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/segexport/internal/download"
	"github.com/JonMunkholm/segexport/internal/source"
)

const outputPerm = 0o644

// ErrNoTable is returned when the --table flag is not set.
var ErrNoTable = errors.New("table is required (use --table)")

type runOptions struct {
	databaseURL string
	table       string
	orderBy     string
	columns     []string
	outDir      string
	fileName    string
	forceZip    bool
	timeout     time.Duration
	settings    download.Settings
}

func newRunCommand() *cobra.Command {
	opts := runOptions{settings: download.DefaultSettings()}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Export a table to .xlsx or .zip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.table == "" {
				return ErrNoTable
			}
			if opts.databaseURL == "" {
				opts.databaseURL = databaseURLFromEnv()
			}
			if opts.databaseURL == "" {
				return errors.New("database URL is required (use --database-url or DATABASE_URL)")
			}
			return runExport(cmd.Context(), cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	f.StringVarP(&opts.table, "table", "t", "", "table or view to export, optionally schema-qualified")
	f.StringVar(&opts.orderBy, "order-by", "id", "unique column giving the paging order")
	f.StringSliceVar(&opts.columns, "columns", nil, "columns to export (default: all)")
	f.StringVarP(&opts.outDir, "out", "o", ".", "output directory")
	f.StringVar(&opts.fileName, "name", "export", "output file name without extension")
	f.BoolVar(&opts.forceZip, "zip", false, "always produce a zip archive")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Minute, "overall export deadline")
	f.IntVar(&opts.settings.PageSize, "page-size", opts.settings.PageSize, "rows per segment")
	f.IntVar(&opts.settings.MinZipSegments, "min-zip-segments", opts.settings.MinZipSegments, "segment count at which output is zipped")
	f.IntVar(&opts.settings.SegmentsPerEntry, "segments-per-entry", opts.settings.SegmentsPerEntry, "segments per zip entry")
	f.StringVar(&opts.settings.EntryPrefix, "entry-prefix", opts.settings.EntryPrefix, "zip entry name prefix")

	return cmd
}

// databaseURLFromEnv reads DATABASE_URL, merging a local .env first.
func databaseURLFromEnv() string {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	return os.Getenv("DB_URL")
}

func runExport(ctx context.Context, cmd *cobra.Command, opts runOptions) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, opts.databaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	src, err := source.NewPostgresTable(conn, opts.table, opts.orderBy, opts.columns...)
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := exportAll(ctx, src, opts.settings, opts.fileName, opts.forceZip)
	if err != nil {
		return err
	}

	path := filepath.Join(opts.outDir, result.FileName)
	if err := os.WriteFile(path, result.Data, outputPerm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "wrote %s (%s, %d segments", path, humanize.Bytes(uint64(len(result.Data))), result.Segments)
	if result.Format == download.FormatZip {
		fmt.Fprintf(out, ", %d entries", result.Entries)
	}
	fmt.Fprintf(out, ") in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
