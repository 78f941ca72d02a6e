/*
Package config implements the types describing the committee, the node's secret key
and the engine parameters, and the functions to load and store them with package viper.
*/
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gitzhang10/chainedbft/sign"
	"github.com/spf13/viper"
)

var (
	// ErrConfiguration is returned for malformed or inconsistent committee,
	// key material or parameters. It is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
)

// Authority is one committee member.
type Authority struct {
	Name      string
	PublicKey ed25519.PublicKey
	Address   string // host:port of the consensus listener
}

// Committee is the fixed set of validators.
type Committee struct {
	authorities map[string]Authority
}

// NewCommittee creates a committee, rejecting empty or duplicate names and bad keys.
func NewCommittee(authorities []Authority) (*Committee, error) {
	if len(authorities) == 0 {
		return nil, fmt.Errorf("%w: empty committee", ErrConfiguration)
	}
	c := &Committee{authorities: make(map[string]Authority, len(authorities))}
	for _, a := range authorities {
		if a.Name == "" {
			return nil, fmt.Errorf("%w: authority without a name", ErrConfiguration)
		}
		if _, ok := c.authorities[a.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate authority %s", ErrConfiguration, a.Name)
		}
		if len(a.PublicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: bad public key for %s", ErrConfiguration, a.Name)
		}
		if a.Address == "" {
			return nil, fmt.Errorf("%w: no address for %s", ErrConfiguration, a.Name)
		}
		c.authorities[a.Name] = a
	}
	return c, nil
}

// Size returns the number of members n.
func (c *Committee) Size() int {
	return len(c.authorities)
}

// FaultTolerance returns f, the number of faulty members tolerated.
func (c *Committee) FaultTolerance() int {
	return (c.Size() - 1) / 3
}

// QuorumThreshold returns 2f+1.
func (c *Committee) QuorumThreshold() int {
	return c.Size() - c.FaultTolerance()
}

// Exists reports whether name is a committee member.
func (c *Committee) Exists(name string) bool {
	_, ok := c.authorities[name]
	return ok
}

// PublicKey returns the key of a member.
func (c *Committee) PublicKey(name string) (ed25519.PublicKey, bool) {
	a, ok := c.authorities[name]
	return a.PublicKey, ok
}

// Address returns the network address of a member.
func (c *Committee) Address(name string) (string, bool) {
	a, ok := c.authorities[name]
	return a.Address, ok
}

// Names returns the sorted member names.
func (c *Committee) Names() []string {
	names := make([]string, 0, len(c.authorities))
	for name := range c.authorities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Authorities returns the members sorted by name.
func (c *Committee) Authorities() []Authority {
	names := c.Names()
	res := make([]Authority, len(names))
	for i, name := range names {
		res[i] = c.authorities[name]
	}
	return res
}

// Others returns every member except name, sorted by name.
func (c *Committee) Others(name string) []Authority {
	var res []Authority
	for _, a := range c.Authorities() {
		if a.Name != name {
			res = append(res, a)
		}
	}
	return res
}

// Secret is the node's identity and private key.
type Secret struct {
	Name       string
	PrivateKey ed25519.PrivateKey
}

// NewSecret generates a fresh key pair for name.
func NewSecret(name string) *Secret {
	privKey, _ := sign.GenED25519Keys()
	return &Secret{Name: name, PrivateKey: privKey}
}

// PublicKey returns the public half of the key.
func (s *Secret) PublicKey() ed25519.PublicKey {
	return s.PrivateKey.Public().(ed25519.PublicKey)
}

type authorityFile struct {
	Name    string `mapstructure:"name"`
	PubKey  string `mapstructure:"pubkey"`
	Address string `mapstructure:"address"`
}

func newViper(path string) *viper.Viper {
	viperConfig := viper.New()
	viperConfig.SetConfigFile(path)
	viperConfig.SetConfigType("yaml")
	return viperConfig
}

// LoadCommittee reads the committee descriptor.
func LoadCommittee(path string) (*Committee, error) {
	viperConfig := newViper(path)
	if err := viperConfig.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read committee %s: %v", ErrConfiguration, path, err)
	}
	var files []authorityFile
	if err := viperConfig.UnmarshalKey("authorities", &files); err != nil {
		return nil, fmt.Errorf("%w: decode committee %s: %v", ErrConfiguration, path, err)
	}
	authorities := make([]Authority, 0, len(files))
	for _, f := range files {
		pubKey, err := hex.DecodeString(f.PubKey)
		if err != nil {
			return nil, fmt.Errorf("%w: public key of %s cannot be decoded: %v", ErrConfiguration, f.Name, err)
		}
		authorities = append(authorities, Authority{
			Name:      f.Name,
			PublicKey: pubKey,
			Address:   f.Address,
		})
	}
	return NewCommittee(authorities)
}

// WriteCommittee stores the committee descriptor as yaml.
func WriteCommittee(path string, c *Committee) error {
	viperConfig := newViper(path)
	var files []map[string]interface{}
	for _, a := range c.Authorities() {
		files = append(files, map[string]interface{}{
			"name":    a.Name,
			"pubkey":  hex.EncodeToString(a.PublicKey),
			"address": a.Address,
		})
	}
	viperConfig.Set("authorities", files)
	return viperConfig.WriteConfigAs(path)
}

// LoadSecret reads the secret key file.
func LoadSecret(path string) (*Secret, error) {
	viperConfig := newViper(path)
	if err := viperConfig.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read key file %s: %v", ErrConfiguration, path, err)
	}
	name := viperConfig.GetString("name")
	if name == "" {
		return nil, fmt.Errorf("%w: key file %s has no name", ErrConfiguration, path)
	}
	privKey, err := hex.DecodeString(viperConfig.GetString("privkey"))
	if err != nil {
		return nil, fmt.Errorf("%w: private key cannot be decoded: %v", ErrConfiguration, err)
	}
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key has length %d", ErrConfiguration, len(privKey))
	}
	return &Secret{Name: name, PrivateKey: privKey}, nil
}

// WriteSecret stores the secret key file as yaml.
func WriteSecret(path string, s *Secret) error {
	viperConfig := newViper(path)
	viperConfig.Set("name", s.Name)
	viperConfig.Set("pubkey", hex.EncodeToString(s.PublicKey()))
	viperConfig.Set("privkey", hex.EncodeToString(s.PrivateKey))
	return viperConfig.WriteConfigAs(path)
}

// envPrefix is the prefix of environment variables overriding parameters,
// e.g. HOTSTUFF_TIMEOUT_DELAY.
const envPrefix = "hotstuff"

func bindEnv(viperConfig *viper.Viper) {
	viperConfig.SetEnvPrefix(envPrefix)
	viperConfig.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperConfig.SetEnvKeyReplacer(replacer)
}
