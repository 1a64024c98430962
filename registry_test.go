package acme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRegistryStates(t *testing.T) {
	store := NewStorage(t.TempDir())
	require.NoError(t, store.EnsureDirs())

	require.NoError(t, store.WriteChallengeRecord(ChallengeRecord{Host: "pending.test", URL: "u", Proof: "p", Token: "t"}))
	require.NoError(t, store.WriteChallengeRecord(ChallengeRecord{Host: "issued.test", URL: "u", Proof: "p", Token: "t"}))
	require.NoError(t, store.WriteHostCertificate(HostCertificate{Host: "issued.test", CertificateChain: []byte("c"), PrivateKey: []byte("k")}))
	// A certificate without a challenge record does not exclude the host.
	require.NoError(t, store.WriteHostCertificate(HostCertificate{Host: "orphan.test", CertificateChain: []byte("c"), PrivateKey: []byte("k")}))

	hosts := []string{"new.test", "pending.test", "issued.test", "orphan.test"}
	reg, err := LoadRegistry(store, hosts)
	require.NoError(t, err)

	assert.Equal(t, NotStarted, reg.State("new.test"))
	assert.Equal(t, ChallengePending, reg.State("pending.test"))
	assert.Equal(t, Issued, reg.State("issued.test"))
	assert.Equal(t, NotStarted, reg.State("orphan.test"))

	assert.Equal(t, []string{"pending.test", "issued.test"}, reg.Excluded())
	assert.Equal(t, []string{"new.test", "orphan.test"}, reg.Remaining())
	assert.Equal(t, hosts, reg.Hosts())
}

func TestRegistryTransitionsNeverReturnToNotStarted(t *testing.T) {
	store := NewStorage(t.TempDir())
	require.NoError(t, store.EnsureDirs())

	reg, err := LoadRegistry(store, []string{"a.test", "b.test"})
	require.NoError(t, err)

	reg.MarkChallengePending("a.test")
	reg.MarkIssued("b.test")
	reg.MarkChallengePending("b.test")

	assert.Equal(t, ChallengePending, reg.State("a.test"))
	assert.Equal(t, Issued, reg.State("b.test"))
	assert.Empty(t, reg.Remaining())
	assert.Equal(t, "challenge_pending", reg.State("a.test").String())
}
