package util

import (
	"bytes"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"strings"

	"github.com/pkg/errors"
)

const maxPrincipalLength = 29

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal is an opaque account/identity id. Stored as a string so it can
// be compared and used as a map key.
type Principal struct {
	raw string
}

var AnonymousPrincipal = Principal{raw: "\x04"}

func PrincipalFromBytes(b []byte) (Principal, error) {
	if len(b) > maxPrincipalLength {
		return Principal{}, errors.Errorf("principal too long: %d bytes", len(b))
	}

	return Principal{raw: string(b)}, nil
}

// ParsePrincipal decodes the dashed base32 text form and verifies the
// CRC32 checksum and canonical grouping.
func ParsePrincipal(text string) (Principal, error) {

	text = strings.TrimSpace(text)
	if text == "" {
		return Principal{}, errors.New("empty principal")
	}

	decoded, err := principalEncoding.DecodeString(strings.ToUpper(strings.ReplaceAll(text, "-", "")))
	if err != nil {
		return Principal{}, errors.Wrapf(err, "Unable to decode principal %q", text)
	}

	if len(decoded) < 4 {
		return Principal{}, errors.Errorf("principal %q too short", text)
	}

	p, err := PrincipalFromBytes(decoded[4:])
	if err != nil {
		return Principal{}, err
	}

	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(decoded[4:]) {
		return Principal{}, errors.Errorf("principal %q has a bad checksum", text)
	}

	if p.String() != strings.ToLower(text) {
		return Principal{}, errors.Errorf("principal %q is not in canonical form", text)
	}

	return p, nil
}

// MustParsePrincipal is for compile-time constants only
func MustParsePrincipal(text string) Principal {
	p, err := ParsePrincipal(text)
	if err != nil {
		panic(err)
	}

	return p
}

func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

func (p Principal) IsAnonymous() bool {
	return p.raw == AnonymousPrincipal.raw
}

func (p Principal) Equal(o Principal) bool {
	return p.raw == o.raw
}

// Compare orders principals by their bytes, which is how the backend keys
// its share maps.
func (p Principal) Compare(o Principal) int {
	return bytes.Compare([]byte(p.raw), []byte(o.raw))
}

func (p Principal) String() string {

	buf := make([]byte, 4+len(p.raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE([]byte(p.raw)))
	copy(buf[4:], p.raw)

	enc := strings.ToLower(principalEncoding.EncodeToString(buf))

	var sb strings.Builder
	for i := 0; i < len(enc); i += 5 {
		if i > 0 {
			sb.WriteByte('-')
		}

		end := i + 5
		if end > len(enc) {
			end = len(enc)
		}
		sb.WriteString(enc[i:end])
	}

	return sb.String()
}

func (p Principal) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Principal) UnmarshalJSON(data []byte) error {

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return errors.Wrap(err, "principal must be a string")
	}

	parsed, err := ParsePrincipal(text)
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}

// MarshalText lets principals key JSON objects
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := ParsePrincipal(string(text))
	if err != nil {
		return err
	}
	*p = parsed

	return nil
}
