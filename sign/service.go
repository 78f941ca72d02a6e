package sign

import (
	"context"
	"crypto/ed25519"
)

type signRequest struct {
	digest Digest
	reply  chan []byte
}

// SignatureService signs digests on behalf of the protocol. The private key
// never leaves the service goroutine.
type SignatureService struct {
	requests chan signRequest
}

// NewSignatureService starts a service goroutine that lives until ctx is done.
func NewSignatureService(ctx context.Context, privateKey ed25519.PrivateKey) *SignatureService {
	s := &SignatureService{
		requests: make(chan signRequest),
	}
	go s.run(ctx, privateKey)
	return s
}

func (s *SignatureService) run(ctx context.Context, privateKey ed25519.PrivateKey) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			req.reply <- SignEd25519(privateKey, req.digest[:])
		}
	}
}

// RequestSignature blocks until the digest is signed or ctx is done.
// A caller that waits for each answer has at most one request in flight.
func (s *SignatureService) RequestSignature(ctx context.Context, digest Digest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := signRequest{digest: digest, reply: make(chan []byte, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case sig := <-req.reply:
		return sig, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
