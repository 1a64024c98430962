package acme

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirsIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "data")
	store := NewStorage(root)

	require.NoError(t, store.EnsureDirs())
	require.NoError(t, store.EnsureDirs())

	for _, dir := range []string{"account", "orders", "challenges", "certificates"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestAccountCredentialsAbsent(t *testing.T) {
	store := NewStorage(t.TempDir())
	require.NoError(t, store.EnsureDirs())

	creds, err := store.ReadAccountCredentials()
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestAccountCredentialsWrittenPrivately(t *testing.T) {
	root := t.TempDir()
	store := NewStorage(root)
	require.NoError(t, store.EnsureDirs())

	want := Credentials{Contact: "a@example.com", DirectoryURL: testDirectory, AccountURL: "https://ca.test/acct/9", PrivateKey: "PEM"}
	require.NoError(t, store.WriteAccountCredentials(want))

	info, err := os.Stat(filepath.Join(root, "account", "credentials.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := store.ReadAccountCredentials()
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestCorruptCredentialsIsPersistenceError(t *testing.T) {
	root := t.TempDir()
	store := NewStorage(root)
	require.NoError(t, store.EnsureDirs())
	require.NoError(t, os.WriteFile(filepath.Join(root, "account", "credentials.json"), []byte("{not json"), 0o600))

	_, err := store.ReadAccountCredentials()
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestChallengeRecordFileFormat(t *testing.T) {
	root := t.TempDir()
	store := NewStorage(root)
	require.NoError(t, store.EnsureDirs())

	has, err := store.HasChallengeRecord("example.com")
	require.NoError(t, err)
	assert.False(t, has)

	record := ChallengeRecord{Host: "example.com", URL: "https://ca/chal/1", Proof: "xyz", Token: "abc"}
	require.NoError(t, store.WriteChallengeRecord(record))

	data, err := os.ReadFile(filepath.Join(root, "challenges", "example.com", "meta.csv"))
	require.NoError(t, err)
	assert.Equal(t, "https://ca/chal/1;xyz;abc", string(data))

	has, err = store.HasChallengeRecord("example.com")
	require.NoError(t, err)
	assert.True(t, has)

	got, err := store.ReadChallengeRecord("example.com")
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestReadChallengeRecordMissing(t *testing.T) {
	store := NewStorage(t.TempDir())
	require.NoError(t, store.EnsureDirs())

	for _, host := range []string{"missing.example.com", "../account", "a/b", ""} {
		_, err := store.ReadChallengeRecord(host)
		assert.True(t, errors.Is(err, fs.ErrNotExist), "host %q: %v", host, err)
	}
}

func TestReadChallengeRecordMalformed(t *testing.T) {
	root := t.TempDir()
	store := NewStorage(root)
	dir := filepath.Join(root, "challenges", "example.com")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.csv"), []byte("only;two"), 0o644))

	_, err := store.ReadChallengeRecord("example.com")
	assert.Error(t, err)

	// Existence alone still counts as processed.
	has, err := store.HasChallengeRecord("example.com")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestWriteHostCertificate(t *testing.T) {
	root := t.TempDir()
	store := NewStorage(root)
	require.NoError(t, store.EnsureDirs())

	expires := time.Date(2027, 1, 2, 3, 4, 5, 0, time.UTC)
	cert := HostCertificate{
		Host:             "a.example.com",
		Domains:          []string{"a.example.com", "b.example.com"},
		CertificateChain: []byte("CHAIN"),
		PrivateKey:       []byte("KEY"),
		IssuedAt:         expires.Add(-90 * 24 * time.Hour),
		ExpiresAt:        expires,
	}
	require.NoError(t, store.WriteHostCertificate(cert))

	dir := filepath.Join(root, "certificates", "a.example.com")
	chain, err := os.ReadFile(filepath.Join(dir, "cert.pem"))
	require.NoError(t, err)
	assert.Equal(t, "CHAIN", string(chain))

	key, err := os.ReadFile(filepath.Join(dir, "key.pem"))
	require.NoError(t, err)
	assert.Equal(t, "KEY", string(key))

	info, err := os.Stat(filepath.Join(dir, "key.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	meta, err := store.ReadCertificateMeta("a.example.com")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, cert.Domains, meta.Domains)
	assert.True(t, expires.Equal(meta.ExpiresAt))

	has, err := store.HasCertificate("a.example.com")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestWriteOrderReferenceOverwrites(t *testing.T) {
	root := t.TempDir()
	store := NewStorage(root)
	require.NoError(t, store.EnsureDirs())

	require.NoError(t, store.WriteOrderReference("https://ca.test/order/1"))
	require.NoError(t, store.WriteOrderReference("https://ca.test/order/2"))

	data, err := os.ReadFile(filepath.Join(root, "orders", "meta.txt"))
	require.NoError(t, err)
	assert.Equal(t, "https://ca.test/order/2", string(data))
}

func TestWriteWithoutDirsIsPersistenceError(t *testing.T) {
	store := NewStorage(filepath.Join(t.TempDir(), "never-created"))

	err := store.WriteOrderReference("https://ca.test/order/1")
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestInvalidHostNeverTouchesDisk(t *testing.T) {
	root := t.TempDir()
	store := NewStorage(filepath.Join(root, "data"))
	require.NoError(t, store.EnsureDirs())

	for _, host := range []string{"../../outside", "a/b", "..", ""} {
		err := store.WriteChallengeRecord(ChallengeRecord{Host: host, URL: "u", Proof: "p", Token: "t"})
		assert.ErrorIs(t, err, ErrPersistence, host)

		err = store.WriteHostCertificate(HostCertificate{Host: host, CertificateChain: []byte("c"), PrivateKey: []byte("k")})
		assert.ErrorIs(t, err, ErrPersistence, host)

		_, err = store.HasChallengeRecord(host)
		assert.ErrorIs(t, err, ErrPersistence, host)

		_, err = store.HasCertificate(host)
		assert.ErrorIs(t, err, ErrPersistence, host)
	}

	_, err := os.Stat(filepath.Join(root, "outside"))
	assert.True(t, os.IsNotExist(err))
}
