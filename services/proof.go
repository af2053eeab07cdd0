package services

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

var ErrProofExists = errors.New("payment proof already stored")

var safeRef = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ProofStore keeps payment screenshots on disk. Each file is written once and
// never modified.
type ProofStore struct {
	dir string
}

func NewProofStore(dir string) (*ProofStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("proof dir: %w", err)
	}
	return &ProofStore{dir: dir}, nil
}

// Save writes data as payment_{chat}_{paymentRef}.jpg and returns the
// reference to store with the order.
func (s *ProofStore) Save(chatID int64, paymentRef string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &ValidationError{Field: "proof", Message: "The screenshot is empty. Please send it again."}
	}
	if !safeRef.MatchString(paymentRef) {
		return "", fmt.Errorf("invalid payment ref %q", paymentRef)
	}
	name := fmt.Sprintf("payment_%d_%s.jpg", chatID, paymentRef)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", ErrProofExists
		}
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return name, nil
}

// Open reads a stored proof.
func (s *ProofStore) Open(ref string) ([]byte, error) {
	if ref == "" || filepath.Base(ref) != ref {
		return nil, fmt.Errorf("proof %q: %w", ref, ErrNotFound)
	}
	b, err := os.ReadFile(filepath.Join(s.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("proof %q: %w", ref, ErrNotFound)
	}
	return b, err
}

// Discard removes a proof whose order could not be created.
func (s *ProofStore) Discard(ref string) error {
	if ref == "" || filepath.Base(ref) != ref {
		return nil
	}
	return os.Remove(filepath.Join(s.dir, ref))
}
