package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProofStore_WriteOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proofs")
	s, err := NewProofStore(dir)
	require.NoError(t, err)

	ref, err := s.Save(4200, "abc123", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "payment_4200_abc123.jpg", ref)

	_, err = s.Save(4200, "abc123", []byte("other"))
	assert.True(t, errors.Is(err, ErrProofExists))

	b, err := s.Open(ref)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(b), "first write wins")

	fi, err := os.Stat(filepath.Join(dir, ref))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm()&0o640)
}

func TestProofStore_Rejects(t *testing.T) {
	s, err := NewProofStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Save(1, "ref", nil)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = s.Save(1, "../../etc", []byte("x"))
	assert.Error(t, err)

	_, err = s.Open("../secret")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Open("payment_1_missing.jpg")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestProofStore_Discard(t *testing.T) {
	s, err := NewProofStore(t.TempDir())
	require.NoError(t, err)
	ref, err := s.Save(7, "r1", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Discard(ref))
	_, err = s.Open(ref)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, s.Discard(""))
}
