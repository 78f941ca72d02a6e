package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gitzhang10/chainedbft/sign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCommittee(t *testing.T, n int) *Committee {
	var authorities []Authority
	for i := 0; i < n; i++ {
		_, pubKey := sign.GenED25519Keys()
		authorities = append(authorities, Authority{
			Name:      "node" + string(rune('0'+i)),
			PublicKey: pubKey,
			Address:   "127.0.0.1:" + string(rune('0'+i)) + "000",
		})
	}
	c, err := NewCommittee(authorities)
	require.NoError(t, err)
	return c
}

func TestQuorumThreshold(t *testing.T) {
	for n, quorum := range map[int]int{1: 1, 4: 3, 5: 4, 7: 5, 10: 7} {
		c := testCommittee(t, n)
		assert.Equal(t, quorum, c.QuorumThreshold(), "n=%d", n)
	}
}

func TestNewCommitteeRejectsBadInput(t *testing.T) {
	_, pubKey := sign.GenED25519Keys()
	a := Authority{Name: "node0", PublicKey: pubKey, Address: "127.0.0.1:8000"}

	_, err := NewCommittee(nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewCommittee([]Authority{a, a})
	assert.ErrorIs(t, err, ErrConfiguration)

	bad := a
	bad.PublicKey = pubKey[:3]
	_, err = NewCommittee([]Authority{bad})
	assert.ErrorIs(t, err, ErrConfiguration)

	bad = a
	bad.Address = ""
	_, err = NewCommittee([]Authority{bad})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCommitteeFile(t *testing.T) {
	c := testCommittee(t, 4)
	path := filepath.Join(t.TempDir(), "committee.yaml")
	require.NoError(t, WriteCommittee(path, c))

	loaded, err := LoadCommittee(path)
	require.NoError(t, err)
	assert.Equal(t, c.Authorities(), loaded.Authorities())
	assert.Equal(t, []string{"node0", "node1", "node2", "node3"}, loaded.Names())
	assert.Len(t, loaded.Others("node1"), 3)

	addr, ok := loaded.Address("node2")
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:2000", addr)
}

func TestSecretFile(t *testing.T) {
	s := NewSecret("node0")
	path := filepath.Join(t.TempDir(), "node0.yaml")
	require.NoError(t, WriteSecret(path, s))

	loaded, err := LoadSecret(path)
	require.NoError(t, err)
	assert.Equal(t, s.Name, loaded.Name)
	assert.Equal(t, s.PrivateKey, loaded.PrivateKey)
}

func TestLoadMissingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := LoadCommittee(missing)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = LoadSecret(missing)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = LoadParameters(missing)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestDefaultParameters(t *testing.T) {
	p, err := LoadParameters("")
	require.NoError(t, err)
	assert.Equal(t, DefaultParameters(), p)
	assert.Equal(t, time.Second, p.TimeoutDelay)
	assert.Equal(t, 10*time.Second, p.SyncRetryDelay)
}

func TestParametersEnvOverride(t *testing.T) {
	t.Setenv("HOTSTUFF_TIMEOUT_DELAY", "250")
	p, err := LoadParameters("")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, p.TimeoutDelay)
}

func TestParametersValidate(t *testing.T) {
	p := DefaultParameters()
	p.MaxTimeoutDelay = p.TimeoutDelay / 2
	assert.ErrorIs(t, p.Validate(), ErrConfiguration)

	p = DefaultParameters()
	p.TimeoutDelay = 0
	assert.ErrorIs(t, p.Validate(), ErrConfiguration)
}
