package fixed

import (
	"bytes"

	"github.com/pkg/errors"
)

// MarshalJSON writes the raw integer as a string so no JSON consumer
// squeezes it through a float64.
func (e EDs) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.RawString() + `"`), nil
}

// UnmarshalJSON accepts a raw integer as a JSON string or number. The
// precision is taken from the receiver; an unset zero value decodes as E8s.
func (e *EDs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	data = bytes.Trim(data, `"`)

	decimals := e.decimals
	if e.val == nil && decimals == 0 {
		decimals = E8Decimals
	}

	v, err := FromString(string(data), decimals)
	if err != nil {
		return errors.Wrap(err, "fixed: unmarshal")
	}

	*e = v

	return nil
}
