package util

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"hash/crc32"
	"strings"

	"github.com/pkg/errors"
)

const SubaccountLength = 32

// Subaccount is a 32-byte secondary address under one principal
type Subaccount [SubaccountLength]byte

// DefaultSubaccount is all zeroes
var DefaultSubaccount Subaccount

// SubaccountFromPrincipal derives the per-user deposit subaccount the
// staking canister uses: [len(p)] ++ p, zero padded.
func SubaccountFromPrincipal(p Principal) Subaccount {
	var s Subaccount

	b := p.Bytes()
	s[0] = byte(len(b))
	copy(s[1:], b)

	return s
}

func SubaccountFromBytes(b []byte) (Subaccount, error) {
	var s Subaccount

	if len(b) != SubaccountLength {
		return s, errors.Errorf("subaccount must be %d bytes, got %d", SubaccountLength, len(b))
	}
	copy(s[:], b)

	return s, nil
}

func ParseSubaccount(h string) (Subaccount, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return Subaccount{}, errors.Wrap(err, "Unable to hex decode subaccount")
	}

	return SubaccountFromBytes(b)
}

// OrDefault returns the default subaccount for nil, which is how the ledger
// treats an absent subaccount.
func OrDefault(s *Subaccount) Subaccount {
	if s == nil {
		return DefaultSubaccount
	}

	return *s
}

func (s Subaccount) IsDefault() bool {
	return s == DefaultSubaccount
}

func (s Subaccount) Hex() string {
	return hex.EncodeToString(s[:])
}

func (s Subaccount) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Hex())
}

func (s *Subaccount) UnmarshalJSON(data []byte) error {

	var h string
	if err := json.Unmarshal(data, &h); err != nil {
		return errors.Wrap(err, "subaccount must be a hex string")
	}

	parsed, err := ParseSubaccount(h)
	if err != nil {
		return err
	}
	*s = parsed

	return nil
}

// Account is an ICRC-1 account
type Account struct {
	Owner      Principal   `json:"owner"`
	Subaccount *Subaccount `json:"subaccount"`
}

// String renders the ICRC-1 textual account form
func (a Account) String() string {

	sub := OrDefault(a.Subaccount)
	if sub.IsDefault() {
		return a.Owner.String()
	}

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(append(a.Owner.Bytes(), sub[:]...)))
	checksum := strings.ToLower(principalEncoding.EncodeToString(buf))

	return a.Owner.String() + "-" + checksum + "." + strings.TrimLeft(sub.Hex(), "0")
}

// AccountIdentifier is the legacy ICP ledger address of (owner, sub):
// crc32(h) ++ h where h = sha224("\x0Aaccount-id" ++ owner ++ sub).
func AccountIdentifier(owner Principal, sub *Subaccount) string {

	s := OrDefault(sub)

	h := sha256.New224()
	h.Write([]byte("\x0Aaccount-id"))
	h.Write(owner.Bytes())
	h.Write(s[:])
	hash := h.Sum(nil)

	var out bytes.Buffer
	checksum := make([]byte, 4)
	binary.BigEndian.PutUint32(checksum, crc32.ChecksumIEEE(hash))
	out.Write(checksum)
	out.Write(hash)

	return hex.EncodeToString(out.Bytes())
}
