package workbook

import (
	"bytes"
	"fmt"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

// ZipContentType is the MIME type of a zip archive.
const ZipContentType = "application/zip"

// NameFunc names archive entry index (0-based) out of total.
type NameFunc func(index, total int) string

// DefaultEntryName yields part-001.xlsx, part-002.xlsx, ...
func DefaultEntryName(index, total int) string {
	return fmt.Sprintf("part-%03d.xlsx", index+1)
}

// Archive accumulates named entries into an in-memory zip. An Archive is
// not safe for concurrent use.
type Archive struct {
	buf   bytes.Buffer
	zw    *zip.Writer
	names map[string]struct{}
	done  bool
}

// NewArchive returns an empty archive.
func NewArchive() *Archive {
	a := &Archive{names: make(map[string]struct{})}
	a.zw = zip.NewWriter(&a.buf)
	return a
}

// Add writes data as a deflated entry. Entry names must be unique.
func (a *Archive) Add(name string, data []byte) error {
	if a.done {
		return fmt.Errorf("%w: archive already closed", ErrEncoding)
	}
	if _, dup := a.names[name]; dup {
		return fmt.Errorf("%w: duplicate entry %q", ErrEncoding, name)
	}

	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: create entry %q: %w", ErrEncoding, name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: write entry %q: %w", ErrEncoding, name, err)
	}
	a.names[name] = struct{}{}
	return nil
}

// AddWorkbook renders t and adds it under name.
func (a *Archive) AddWorkbook(name string, t *tabular.Table, format FormatFunc) error {
	data, err := ToWorkbookBytes(t, format)
	if err != nil {
		return fmt.Errorf("entry %q: %w", name, err)
	}
	return a.Add(name, data)
}

// Len reports the number of entries added so far.
func (a *Archive) Len() int {
	return len(a.names)
}

// Bytes finalizes the archive and returns its contents. No entries can be
// added afterwards.
func (a *Archive) Bytes() ([]byte, error) {
	if !a.done {
		if err := a.zw.Close(); err != nil {
			return nil, fmt.Errorf("%w: close archive: %w", ErrEncoding, err)
		}
		a.done = true
	}
	return a.buf.Bytes(), nil
}

// ToZipBytes renders each table as its own workbook entry, in order.
func ToZipBytes(tables []*tabular.Table, name NameFunc, format FormatFunc) ([]byte, error) {
	if name == nil {
		name = DefaultEntryName
	}
	a := NewArchive()
	for i, t := range tables {
		if err := a.AddWorkbook(name(i, len(tables)), t, format); err != nil {
			return nil, err
		}
	}
	return a.Bytes()
}

// Entry is one file read back from an archive.
type Entry struct {
	Name string
	Data []byte
}

// ReadZip lists the entries of a zip archive in order.
func ReadZip(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	entries := make([]Entry, 0, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %q: %w", zf.Name, err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read entry %q: %w", zf.Name, err)
		}
		entries = append(entries, Entry{Name: zf.Name, Data: buf.Bytes()})
	}
	return entries, nil
}
