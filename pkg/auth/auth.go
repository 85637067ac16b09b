// Package auth verifies HTTP Basic credentials against an
// htpasswd-style file of bcrypt entries.
package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/torc-hpc/torc/pkg/torcerr"
)

// AnonymousUser is the identity attached to requests when no credential
// file is configured.
const AnonymousUser = "anonymous"

// Verifier checks HTTP Basic credentials against an htpasswd-style file
// of bcrypt entries. A nil Verifier means authentication is disabled and
// every request runs as AnonymousUser.
type Verifier struct {
	users map[string]string
}

// LoadFile parses an htpasswd file and returns a Verifier over its
// entries. Lines are `user:hash`, blank lines and `#` comments are
// skipped. Only bcrypt hashes ($2a$, $2b$, $2y$) are accepted; other
// hash schemes (MD5-crypt, SHA) are rejected so a misconfigured file
// fails at startup rather than locking everyone out at request time.
func LoadFile(path string) (*Verifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth file: %w", err)
	}
	defer f.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, hash, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("auth file %s line %d: expected user:hash", path, lineNo)
		}
		if !isBcryptHash(hash) {
			return nil, fmt.Errorf("auth file %s line %d: user %q: only bcrypt hashes are supported", path, lineNo, name)
		}
		if _, dup := users[name]; dup {
			return nil, fmt.Errorf("auth file %s line %d: duplicate user %q", path, lineNo, name)
		}
		users[name] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read auth file: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("auth file %s: no entries", path)
	}
	return &Verifier{users: users}, nil
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") ||
		strings.HasPrefix(hash, "$2b$") ||
		strings.HasPrefix(hash, "$2y$")
}

// Verify checks a username/password pair. Unknown users and wrong
// passwords both return AuthFailed so callers cannot probe for valid
// usernames.
func (v *Verifier) Verify(username, password string) error {
	hash, ok := v.users[username]
	if !ok {
		// Burn a comparison anyway so the two failure modes take
		// comparable time.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return torcerr.AuthFailed("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return torcerr.AuthFailed("invalid credentials")
	}
	return nil
}

// Users returns the configured usernames, for startup logging.
func (v *Verifier) Users() int {
	return len(v.users)
}

// dummyHash is a bcrypt hash of an unguessable throwaway string.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")
