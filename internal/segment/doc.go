// Package segment stores the pages of an export until they are assembled.
//
// A [Store] hands out operation identifiers, appends one page ("segment") at a
// time under an operation, and later concatenates all or a window of the
// stored segments back into one [tabular.Table]. Segments keep their arrival
// order; appends to a single operation are serialized by every backend.
//
// Three backends are provided:
//
//   - [MemoryStore]: process-local maps, any comparable id type
//   - [PostgresStore]: export_operations / export_segments tables via pgx
//   - [BlobStore]: one object per segment in a gocloud.dev bucket
//     (mem://, file://, s3://, gs://, azblob://)
//
// Stores never expire operations on their own. Callers release an operation
// with Cleanup; backends that implement [Sweeper] can additionally be swept
// of operations abandoned for longer than a cutoff.
package segment
