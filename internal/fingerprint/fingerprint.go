// Package fingerprint computes content-addressed identities for source files
// and answers duplicate-ingestion queries against the audit log.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// blockSize is the read granularity for streaming digests. Memory use is
// independent of file size: one block buffer regardless of input length.
const blockSize = 64 * 1024

// ErrEmptyFingerprint is returned when a duplicate query is attempted with an
// empty fingerprint.
var ErrEmptyFingerprint = errors.New("fingerprint cannot be empty")

// Fingerprint is a 256-bit content digest in lowercase hex (64 characters).
// Identical byte content always yields an identical fingerprint; a single
// changed byte changes it.
type Fingerprint string

// String returns the hex representation of the fingerprint.
func (f Fingerprint) String() string {
	return string(f)
}

// AuditQuerier is the read-only slice of the audit log the fingerprinter
// needs: whether a file_ingested event with the given fingerprint exists.
type AuditQuerier interface {
	HasFileIngested(ctx context.Context, fp Fingerprint) (bool, error)
}

// Fingerprinter computes streaming SHA-256 digests and checks them against
// prior ingestions.
type Fingerprinter struct {
	audit AuditQuerier
}

// New creates a Fingerprinter backed by the given audit log. audit may be nil
// for callers that only need digest computation.
func New(audit AuditQuerier) *Fingerprinter {
	return &Fingerprinter{audit: audit}
}

// File computes the fingerprint of the file at path, along with its byte
// length. The file is read incrementally in fixed-size blocks.
func (f *Fingerprinter) File(path string) (Fingerprint, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	return f.Reader(file)
}

// Reader computes the fingerprint of the byte stream r and the number of
// bytes consumed.
func (f *Fingerprinter) Reader(r io.Reader) (Fingerprint, int64, error) {
	hasher := sha256.New()
	buf := make([]byte, blockSize)

	var total int64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			// sha256.Write never returns an error.
			_, _ = hasher.Write(buf[:n])
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			return "", total, fmt.Errorf("failed to read stream: %w", err)
		}
	}

	return Fingerprint(hex.EncodeToString(hasher.Sum(nil))), total, nil
}

// Bytes computes the fingerprint of an in-memory byte slice. Convenience for
// tests and small payloads.
func (f *Fingerprinter) Bytes(data []byte) Fingerprint {
	sum := sha256.Sum256(data)

	return Fingerprint(hex.EncodeToString(sum[:]))
}

// IsDuplicate reports whether a file with the given fingerprint was already
// ingested, by querying prior file_ingested audit events.
//
// An absent match is a normal false result, not an error. This is a pure
// query: no state is written.
func (f *Fingerprinter) IsDuplicate(ctx context.Context, fp Fingerprint) (bool, error) {
	if fp == "" {
		return false, ErrEmptyFingerprint
	}

	if f.audit == nil {
		return false, nil
	}

	seen, err := f.audit.HasFileIngested(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("duplicate check failed: %w", err)
	}

	return seen, nil
}
