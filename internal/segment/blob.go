package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/JonMunkholm/segexport/internal/keylock"
	"github.com/JonMunkholm/segexport/internal/tabular"
)

var (
	_ Store[uuid.UUID] = (*BlobStore)(nil)
	_ Sweeper          = (*BlobStore)(nil)
)

// BlobStore persists each segment as one object in a bucket:
//
//	<prefix>/<operation id>/operation          marker, rewritten on every append
//	<prefix>/<operation id>/segments/00000000  first segment
//	<prefix>/<operation id>/segments/00000001  ...
//
// Sequence numbers are zero padded so the bucket's lexicographic listing
// order equals arrival order. Appends are serialized per operation inside
// this process; run one service instance per bucket prefix, or route each
// operation to a single instance.
type BlobStore struct {
	bucket *blob.Bucket
	prefix string
	locks  *keylock.Locks[uuid.UUID]
}

const (
	markerName      = "operation"
	segmentsDir     = "segments"
	segmentKeyWidth = 8
)

// NewBlobStore returns a store writing under prefix in bucket. The caller
// owns bucket and closes it.
func NewBlobStore(bucket *blob.Bucket, prefix string) *BlobStore {
	return &BlobStore{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		locks:  keylock.New[uuid.UUID](),
	}
}

// OpenBlobStore opens the bucket at url (for example "file:///var/exports"
// or "s3://bucket?region=us-east-1") and returns a store using it. Close the
// store to release the bucket.
func OpenBlobStore(ctx context.Context, url, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, unavailable("open bucket", err)
	}
	return NewBlobStore(bucket, prefix), nil
}

// Close releases the underlying bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func (s *BlobStore) opDir(id uuid.UUID) string {
	return path.Join(s.prefix, id.String()) + "/"
}

func (s *BlobStore) markerKey(id uuid.UUID) string {
	return s.opDir(id) + markerName
}

func (s *BlobStore) segmentPrefix(id uuid.UUID) string {
	return s.opDir(id) + segmentsDir + "/"
}

func (s *BlobStore) segmentKey(id uuid.UUID, seq int) string {
	return fmt.Sprintf("%s%0*d", s.segmentPrefix(id), segmentKeyWidth, seq)
}

// touch (re)writes the operation marker; its modification time is the
// operation's last activity.
func (s *BlobStore) touch(ctx context.Context, id uuid.UUID) error {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	return s.bucket.WriteAll(ctx, s.markerKey(id), stamp, &blob.WriterOptions{ContentType: "text/plain"})
}

func (s *BlobStore) checkExists(ctx context.Context, id uuid.UUID) error {
	ok, err := s.bucket.Exists(ctx, s.markerKey(id))
	if err != nil {
		return unavailable("check operation", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, id)
	}
	return nil
}

// listKeys returns every object key under prefix in lexicographic order.
func (s *BlobStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return keys, nil
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}
}

// NewOperation implements Store.
func (s *BlobStore) NewOperation(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	if err := s.touch(ctx, id); err != nil {
		return uuid.Nil, unavailable("new operation", err)
	}
	return id, nil
}

// Append implements Store.
func (s *BlobStore) Append(ctx context.Context, id uuid.UUID, data *tabular.Table) error {
	if err := checkAppend(data); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.checkExists(ctx, id); err != nil {
		return err
	}

	keys, err := s.listKeys(ctx, s.segmentPrefix(id))
	if err != nil {
		return unavailable("append: list segments", err)
	}

	payload, err := tabular.Encode(data)
	if err != nil {
		return err
	}

	key := s.segmentKey(id, len(keys))
	if err := s.bucket.WriteAll(ctx, key, payload, &blob.WriterOptions{ContentType: "application/zstd"}); err != nil {
		return unavailable("append: write segment", err)
	}

	if err := s.touch(ctx, id); err != nil {
		// Keep the store unchanged: the segment is not visible without a
		// consistent marker, so remove it again.
		return s.rollback(ctx, key, unavailable("append: touch operation", err))
	}
	return nil
}

// rollback deletes a segment written by a failed Append. A failed delete is
// reported alongside cause, since the segment may then still be listed.
func (s *BlobStore) rollback(ctx context.Context, key string, cause error) error {
	if err := s.bucket.Delete(context.WithoutCancel(ctx), key); err != nil {
		return errors.Join(cause, fmt.Errorf("roll back segment %s: %w", key, err))
	}
	return cause
}

// SegmentCount implements Store.
func (s *BlobStore) SegmentCount(ctx context.Context, id uuid.UUID) (int, error) {
	if err := s.checkExists(ctx, id); err != nil {
		return 0, err
	}
	keys, err := s.listKeys(ctx, s.segmentPrefix(id))
	if err != nil {
		return 0, unavailable("segment count", err)
	}
	return len(keys), nil
}

// Assemble implements Store.
func (s *BlobStore) Assemble(ctx context.Context, id uuid.UUID, skip, take int) (*tabular.Table, error) {
	if err := s.checkExists(ctx, id); err != nil {
		return nil, err
	}

	keys, err := s.listKeys(ctx, s.segmentPrefix(id))
	if err != nil {
		return nil, unavailable("assemble: list segments", err)
	}

	lo, hi, err := window(len(keys), skip, take)
	if err != nil {
		return nil, err
	}

	segments := make([]*tabular.Table, 0, hi-lo)
	for i, key := range keys[lo:hi] {
		payload, err := s.bucket.ReadAll(ctx, key)
		if err != nil {
			return nil, unavailable("assemble: read segment", err)
		}
		t, err := tabular.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("assemble %s: segment %d: %w", id, lo+i, err)
		}
		segments = append(segments, t)
	}

	out, err := tabular.Concat(segments...)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", id, err)
	}
	return out, nil
}

// Cleanup implements Store.
func (s *BlobStore) Cleanup(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	keys, err := s.listKeys(ctx, s.opDir(id))
	if err != nil {
		return unavailable("cleanup: list", err)
	}

	// Segments first, marker last, so a failed cleanup can be retried.
	for _, key := range keys {
		if key == s.markerKey(id) {
			continue
		}
		if err := s.deleteIgnoringMissing(ctx, key); err != nil {
			return unavailable("cleanup: delete segment", err)
		}
	}
	if err := s.deleteIgnoringMissing(ctx, s.markerKey(id)); err != nil {
		return unavailable("cleanup: delete marker", err)
	}
	return nil
}

func (s *BlobStore) deleteIgnoringMissing(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return err
	}
	return nil
}

// Sweep implements Sweeper using the marker's modification time.
func (s *BlobStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}

	var stale []uuid.UUID
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, unavailable("sweep: list", err)
		}
		if !obj.IsDir {
			continue
		}

		id, err := uuid.Parse(strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/"))
		if err != nil {
			continue // not ours
		}

		attrs, err := s.bucket.Attributes(ctx, s.markerKey(id))
		if gcerrors.Code(err) == gcerrors.NotFound {
			// Orphaned segments from an interrupted cleanup.
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return 0, unavailable("sweep: attributes", err)
		}
		if attrs.ModTime.Before(olderThan) {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		if err := s.Cleanup(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
