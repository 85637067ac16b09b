package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/torc-hpc/torc/pkg/torcerr"
)

func writeAuthFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "htpasswd")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func bcryptHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestLoadFileAndVerify(t *testing.T) {
	path := writeAuthFile(t, fmt.Sprintf(
		"# operators\n\nalice:%s\nbob:%s\n",
		bcryptHash(t, "wonderland"),
		bcryptHash(t, "builder"),
	))

	v, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Users())

	assert.NoError(t, v.Verify("alice", "wonderland"))
	assert.NoError(t, v.Verify("bob", "builder"))

	err = v.Verify("alice", "builder")
	assert.True(t, torcerr.Is(err, torcerr.CodeAuthFailed))

	err = v.Verify("mallory", "wonderland")
	assert.True(t, torcerr.Is(err, torcerr.CodeAuthFailed))
}

func TestLoadFileRejectsNonBcrypt(t *testing.T) {
	// MD5-crypt entry as produced by `htpasswd -m`.
	path := writeAuthFile(t, "alice:$apr1$f0eOITGq$cbXbUGlrqdVyjrTFzAbc1\n")
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only bcrypt")
}

func TestLoadFileMalformed(t *testing.T) {
	for name, content := range map[string]string{
		"no separator": "alicepassword\n",
		"empty user":   ":$2a$10$abcdefghijklmnopqrstuv\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeAuthFile(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileDuplicateUser(t *testing.T) {
	h := bcryptHash(t, "pw")
	path := writeAuthFile(t, fmt.Sprintf("alice:%s\nalice:%s\n", h, h))
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate user")
}

func TestLoadFileEmpty(t *testing.T) {
	_, err := LoadFile(writeAuthFile(t, "# nobody here\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entries")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
