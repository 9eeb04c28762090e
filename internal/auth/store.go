// Package auth implements credential verification and session management for
// the portal. Accounts live in a flat JSON file with bcrypt password hashes;
// successful logins get a signed session token in an HttpOnly cookie.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// User is one account from the users file. Password holds the bcrypt hash,
// never the plaintext.
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// Store holds the loaded accounts, keyed by lowercased username.
type Store struct {
	users map[string]User
}

// LoadStore reads the users file. A missing or empty file is an error: the
// portal is unusable without at least one account.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file %v: %w", path, err)
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse users file %v: %w", path, err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("users file %v contains no accounts", path)
	}

	store := &Store{users: make(map[string]User, len(users))}
	for _, user := range users {
		if user.Username == "" {
			return nil, fmt.Errorf("users file %v contains an account with no username", path)
		}
		store.users[strings.ToLower(user.Username)] = user
	}
	return store, nil
}

// Authenticate verifies a username and plaintext password pair. The bcrypt
// comparison runs even for usernames that match, never on missing accounts;
// failures are indistinguishable to the caller either way.
func (s *Store) Authenticate(username, password string) (User, bool) {
	user, ok := s.users[strings.ToLower(username)]
	if !ok {
		return User{}, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return User{}, false
	}
	return user, true
}

// Lookup returns the account for a username without checking credentials.
func (s *Store) Lookup(username string) (User, bool) {
	user, ok := s.users[strings.ToLower(username)]
	return user, ok
}
