package util

import (
	"sync"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/pkg/errors"
)

// IDLength is the length of every paste ID.
const IDLength = 8

const maxIDAttempts = 5

// IDAlphabet is the nanoid URL-safe alphabet.
const IDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

var ErrIDCollision = errors.New("id collision after 5 retries")

var (
	genOnce sync.Once
	gen     func() string
	genErr  error
)

func generator() (func() string, error) {
	genOnce.Do(func() {
		gen, genErr = nanoid.Standard(IDLength)
	})
	return gen, genErr
}

// NewID returns a fresh random ID without checking for collisions.
func NewID() (string, error) {
	g, err := generator()
	if err != nil {
		return "", errors.Wrap(err, "nanoid init")
	}
	return g(), nil
}

// GenID draws IDs until exists reports a free one, giving up after five
// attempts.
func GenID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < maxIDAttempts; retry++ {
		id, err := NewID()
		if err != nil {
			return "", err
		}
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", ErrIDCollision
}

// ValidID reports whether id could have been issued by GenID.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
