package fingerprint

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAudit is an AuditQuerier backed by a fixed fingerprint set.
type fakeAudit struct {
	seen map[Fingerprint]bool
	err  error
}

func (f *fakeAudit) HasFileIngested(_ context.Context, fp Fingerprint) (bool, error) {
	if f.err != nil {
		return false, f.err
	}

	return f.seen[fp], nil
}

func TestFingerprintDeterminism(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := New(nil)

	t.Run("identical content yields identical fingerprint", func(t *testing.T) {
		a := f.Bytes([]byte("account_code,balance\n1000,50.00\n"))
		b := f.Bytes([]byte("account_code,balance\n1000,50.00\n"))

		assert.Equal(t, a, b)
		assert.Len(t, a.String(), 64)
	})

	t.Run("single changed byte changes the fingerprint", func(t *testing.T) {
		a := f.Bytes([]byte("account_code,balance\n1000,50.00\n"))
		b := f.Bytes([]byte("account_code,balance\n1000,50.01\n"))

		assert.NotEqual(t, a, b)
	})

	t.Run("reader and bytes agree", func(t *testing.T) {
		content := []byte("entity,period\nacme,2024-01\n")

		fromReader, n, err := f.Reader(bytes.NewReader(content))
		require.NoError(t, err)

		assert.Equal(t, int64(len(content)), n)
		assert.Equal(t, f.Bytes(content), fromReader)
	})

	t.Run("file matches in-memory digest", func(t *testing.T) {
		content := []byte("account_code,balance\n1000,50.00\n")
		path := filepath.Join(t.TempDir(), "extract.csv")
		require.NoError(t, os.WriteFile(path, content, 0o600))

		fromFile, length, err := f.File(path)
		require.NoError(t, err)

		assert.Equal(t, int64(len(content)), length)
		assert.Equal(t, f.Bytes(content), fromFile)
	})

	t.Run("missing file returns error", func(t *testing.T) {
		_, _, err := f.File("/nonexistent/extract.csv")
		require.Error(t, err)
	})
}

func TestIsDuplicate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	known := Fingerprint("aaaa")

	t.Run("known fingerprint is a duplicate", func(t *testing.T) {
		f := New(&fakeAudit{seen: map[Fingerprint]bool{known: true}})

		dup, err := f.IsDuplicate(ctx, known)
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("unknown fingerprint is not a duplicate", func(t *testing.T) {
		f := New(&fakeAudit{seen: map[Fingerprint]bool{}})

		dup, err := f.IsDuplicate(ctx, Fingerprint("bbbb"))
		require.NoError(t, err)
		assert.False(t, dup)
	})

	t.Run("empty fingerprint is rejected", func(t *testing.T) {
		f := New(&fakeAudit{})

		_, err := f.IsDuplicate(ctx, "")
		require.ErrorIs(t, err, ErrEmptyFingerprint)
	})

	t.Run("audit errors propagate", func(t *testing.T) {
		auditErr := errors.New("audit store down")
		f := New(&fakeAudit{err: auditErr})

		_, err := f.IsDuplicate(ctx, known)
		require.ErrorIs(t, err, auditErr)
	})

	t.Run("nil audit never reports duplicates", func(t *testing.T) {
		f := New(nil)

		dup, err := f.IsDuplicate(ctx, known)
		require.NoError(t, err)
		assert.False(t, dup)
	})
}
