// Package nfc checks the SUN/SDM parameters that an NFC tag appends to its
// URL. Only a stub verifier exists; it performs no cryptography.
package nfc

import (
	"context"
	"strconv"
	"strings"
)

// FlagStubNoCrypto marks a result that was not cryptographically checked.
const FlagStubNoCrypto = "STUB_NO_CRYPTO"

// Params are the raw query values read from a tag tap.
type Params struct {
	PublicID string
	CT       string
	SDM      string
}

// Empty reports whether the request carried no tag parameters at all.
func (p Params) Empty() bool {
	return p.CT == "" && p.SDM == ""
}

type Result struct {
	OK      bool     `json:"ok"`
	Flags   []string `json:"flags"`
	Counter *int64   `json:"counter,omitempty"`
}

type Verifier interface {
	Verify(ctx context.Context, p Params) (Result, error)
}

// StubVerifier accepts every tap and reports the tap counter when CT is a
// decimal number.
type StubVerifier struct{}

func (StubVerifier) Verify(_ context.Context, p Params) (Result, error) {
	res := Result{OK: true, Flags: []string{FlagStubNoCrypto}}
	if n, err := strconv.ParseInt(strings.TrimSpace(p.CT), 10, 64); err == nil {
		res.Counter = &n
	}
	return res, nil
}
