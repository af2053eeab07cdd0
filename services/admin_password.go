package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	passwordLen  = 12
	symbols      = "!@#$%&*"
	upperLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerLetters = "abcdefghijkmnopqrstuvwxyz"
	digits       = "23456789"
)

// AdminAuth gates admin commands behind /login when a password hash is
// configured. Logins last for the process lifetime.
type AdminAuth struct {
	hash []byte

	mu     sync.Mutex
	logged map[int64]bool
}

func NewAdminAuth(bcryptHash string) *AdminAuth {
	return &AdminAuth{hash: []byte(bcryptHash), logged: make(map[int64]bool)}
}

// Required reports whether admins must log in.
func (a *AdminAuth) Required() bool { return len(a.hash) > 0 }

func (a *AdminAuth) LoggedIn(userID int64) bool {
	if !a.Required() {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logged[userID]
}

// Login checks password and marks the user logged in on success.
func (a *AdminAuth) Login(userID int64, password string) bool {
	if !a.Required() {
		return true
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(password)) != nil {
		return false
	}
	a.mu.Lock()
	a.logged[userID] = true
	a.mu.Unlock()
	return true
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GenerateSecurePassword returns a random password with at least one
// uppercase letter, lowercase letter, digit and symbol. Do not log it.
func GenerateSecurePassword() (string, error) {
	pick := func(s string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(s))))
		if err != nil {
			return 0, err
		}
		return s[n.Int64()], nil
	}
	result := make([]byte, passwordLen)
	all := upperLetters + lowerLetters + digits + symbols
	for i := range result {
		set := all
		switch i {
		case 0:
			set = upperLetters
		case 1:
			set = lowerLetters
		case 2:
			set = digits
		case 3:
			set = symbols
		}
		b, err := pick(set)
		if err != nil {
			return "", err
		}
		result[i] = b
	}
	for i := passwordLen - 1; i >= 1; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("shuffle: %w", err)
		}
		j := int(n.Int64())
		result[i], result[j] = result[j], result[i]
	}
	return string(result), nil
}
