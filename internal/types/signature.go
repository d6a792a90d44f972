package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Signature 是交易的第一个签名（64 字节），同时作为交易 ID 使用。
type Signature [64]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) IsZero() bool {
	return s == Signature{}
}

func SignatureFromBase58(str string) (Signature, error) {
	var s Signature
	data, err := base58.Decode(str)
	if err != nil {
		return s, fmt.Errorf("failed to decode base58 signature %q: %w", str, err)
	}
	if len(data) != 64 {
		return s, fmt.Errorf("invalid signature length: got %d, want 64, input=%q", len(data), str)
	}
	copy(s[:], data)
	return s, nil
}

func MustSignatureFromBase58(str string) Signature {
	s, err := SignatureFromBase58(str)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	v, err := SignatureFromBase58(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
