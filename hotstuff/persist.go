package hotstuff

import (
	"errors"
	"fmt"

	"github.com/gitzhang10/chainedbft/store"
)

// Store is the durable key/value log. Write must be durable when it returns.
type Store interface {
	Write(key, value []byte) error
	Read(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
}

// safetyState is everything the core must not forget across a crash.
type safetyState struct {
	Round              uint64
	LastVotedRound     uint64
	LastCommittedRound uint64
	LastProposedRound  uint64
	HighQC             QC
	LockedQC           QC
}

func wrapStorage(err error) error {
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func writeValue(s Store, key []byte, value interface{}) error {
	data, err := encode(value)
	if err != nil {
		return wrapStorage(err)
	}
	if err := s.Write(key, data); err != nil {
		return wrapStorage(err)
	}
	return nil
}

// loadBlock returns store.ErrNotFound for unknown digests. The genesis block
// is never stored and is always known.
func loadBlock(s Store, digest Digest) (*Block, error) {
	if digest.IsZero() {
		return GenesisBlock(), nil
	}
	data, err := s.Read(blockKey(digest))
	if err != nil {
		return nil, err
	}
	block := new(Block)
	if err := decode(data, block); err != nil {
		return nil, err
	}
	return block, nil
}

func storeBlock(s Store, block *Block) error {
	return writeValue(s, blockKey(block.Digest()), block)
}

func storeQC(s Store, qc *QC) error {
	return writeValue(s, qcKey(qc.Hash), qc)
}

func storeTC(s Store, tc *TC) error {
	return writeValue(s, tcKey(tc.Round), tc)
}

func storeState(s Store, state *safetyState) error {
	return writeValue(s, stateKey(), state)
}

// loadState returns nil when the node never persisted a state.
func loadState(s Store) (*safetyState, error) {
	data, err := s.Read(stateKey())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage(err)
	}
	state := new(safetyState)
	if err := decode(data, state); err != nil {
		return nil, wrapStorage(err)
	}
	return state, nil
}
