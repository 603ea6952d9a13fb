package session

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	nameLetters = "abcdefghijklmnopqrstuvwxyz"
	nameDigits  = "0123456789"
)

// GenerateName returns a short letter-digit-letter-digit name such as "r2d2".
func GenerateName() (string, error) {
	var name string
	for _, alphabet := range []string{nameLetters, nameDigits, nameLetters, nameDigits} {
		c, err := gonanoid.Generate(alphabet, 1)
		if err != nil {
			return "", fmt.Errorf("failed to generate session name: %w", err)
		}
		name += c
	}
	return name, nil
}

// UniqueName generates names until one has no log in store.
func UniqueName(store *Store) (string, error) {
	const attempts = 100
	for i := 0; i < attempts; i++ {
		name, err := GenerateName()
		if err != nil {
			return "", err
		}
		if !store.Exists(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free session name after %d attempts", attempts)
}
