package util

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"hash/crc32"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalKnownValues(t *testing.T) {

	assert.Equal(t, "2vxsx-fae", AnonymousPrincipal.String())
	assert.Equal(t, "aaaaa-aa", ManagementCanister.String())

	ledger, err := ParsePrincipal(ICP_LEDGER_DEFAULT)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 2, 1, 1}, ledger.Bytes())
	assert.Equal(t, ICP_LEDGER_DEFAULT, ledger.String())

	anon, err := ParsePrincipal("2vxsx-fae")
	require.NoError(t, err)
	assert.True(t, anon.IsAnonymous())
	assert.False(t, ledger.IsAnonymous())
}

func TestPrincipalRoundTrip(t *testing.T) {

	for n := 0; n <= maxPrincipalLength; n++ {
		raw := make([]byte, n)
		for i := range raw {
			raw[i] = byte(i*7 + n)
		}

		p, err := PrincipalFromBytes(raw)
		require.NoError(t, err)

		back, err := ParsePrincipal(p.String())
		require.NoError(t, err)
		assert.True(t, p.Equal(back))
	}

	_, err := PrincipalFromBytes(make([]byte, maxPrincipalLength+1))
	assert.Error(t, err)
}

func TestPrincipalRejectsBadText(t *testing.T) {

	// Last character changed, checksum no longer matches
	_, err := ParsePrincipal("ryjl3-tyaaa-aaaaa-aaaba-cae")
	assert.Error(t, err)

	// Wrong grouping
	_, err = ParsePrincipal("ryjl3tyaaa-aaaaa-aaaba-cai")
	assert.Error(t, err)

	_, err = ParsePrincipal("")
	assert.Error(t, err)

	_, err = ParsePrincipal("not a principal!")
	assert.Error(t, err)
}

func TestPrincipalJSON(t *testing.T) {

	type holder struct {
		Owner Principal `json:"owner"`
	}

	out, err := json.Marshal(holder{Owner: AnonymousPrincipal})
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"2vxsx-fae"}`, string(out))

	var h holder
	require.NoError(t, json.Unmarshal([]byte(`{"owner":"ryjl3-tyaaa-aaaaa-aaaba-cai"}`), &h))
	assert.Equal(t, ICP_LEDGER_DEFAULT, h.Owner.String())

	assert.Error(t, json.Unmarshal([]byte(`{"owner":"2vxsx-fab"}`), &h))
}

func TestPrincipalAsMapKey(t *testing.T) {
	m := map[Principal]int{}
	m[MustParsePrincipal("2vxsx-fae")]++
	m[AnonymousPrincipal]++

	assert.Len(t, m, 1)
	assert.Equal(t, 2, m[AnonymousPrincipal])
}

func TestSubaccountFromPrincipal(t *testing.T) {

	ledger := MustParsePrincipal(ICP_LEDGER_DEFAULT)
	sub := SubaccountFromPrincipal(ledger)

	assert.Equal(t, byte(10), sub[0])
	assert.Equal(t, ledger.Bytes(), sub[1:11])
	for _, b := range sub[11:] {
		assert.Equal(t, byte(0), b)
	}

	parsed, err := ParseSubaccount(sub.Hex())
	require.NoError(t, err)
	assert.Equal(t, sub, parsed)

	_, err = ParseSubaccount("abcd")
	assert.Error(t, err)

	assert.True(t, OrDefault(nil).IsDefault())
	assert.False(t, sub.IsDefault())
}

func TestAccountText(t *testing.T) {

	owner := MustParsePrincipal(ICP_LEDGER_DEFAULT)
	assert.Equal(t, owner.String(), Account{Owner: owner}.String())

	sub := Subaccount{}
	sub[31] = 1
	text := Account{Owner: owner, Subaccount: &sub}.String()
	assert.Regexp(t, `^ryjl3-tyaaa-aaaaa-aaaba-cai-[a-z2-7]{7}\.1$`, text)
}

func TestAccountIdentifier(t *testing.T) {

	id := AccountIdentifier(AnonymousPrincipal, nil)
	require.Len(t, id, 64)

	raw, err := hex.DecodeString(id)
	require.NoError(t, err)
	assert.Equal(t, crc32.ChecksumIEEE(raw[4:]), binary.BigEndian.Uint32(raw[:4]))

	// nil and explicit default subaccount are the same account
	assert.Equal(t, id, AccountIdentifier(AnonymousPrincipal, &DefaultSubaccount))

	sub := SubaccountFromPrincipal(AnonymousPrincipal)
	assert.NotEqual(t, id, AccountIdentifier(AnonymousPrincipal, &sub))
}

func TestErrorCodes(t *testing.T) {

	assert.Nil(t, WrapErr(ErrNetwork, nil, "nothing"))

	err := WrapErr(ErrAuth, errors.New("no identity"), "Unable to stake")
	assert.Equal(t, ErrAuth, CodeOf(err))
	assert.Contains(t, err.Error(), "AUTH")
	assert.Contains(t, err.Error(), "no identity")

	// Code survives further wrapping
	assert.Equal(t, ErrAuth, CodeOf(errors.Wrap(err, "outer")))

	assert.Equal(t, ErrUnknown, CodeOf(errors.New("plain")))
	assert.Equal(t, ErrUnreachable, CodeOf(Errf(ErrUnreachable, "agent %s missing", "anon")))
}

func TestNormalizeEthAddress(t *testing.T) {

	addr, err := NormalizeEthAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", addr)

	_, err = NormalizeEthAddress("0x1234")
	assert.Error(t, err)
	assert.False(t, IsValidEthAddress("hello"))
}

func TestNetworkConstants(t *testing.T) {

	nc, err := GetNetworkConstants(NETWORK_IC, "")
	require.NoError(t, err)
	assert.Equal(t, "https://identity.ic0.app/", nc.IdentityProvider)
	assert.Equal(t, uint32(100), nc.PoolPageSize)

	local, err := GetNetworkConstants(NETWORK_LOCAL, "rdmx6-jaaaa-aaaaa-aaadq-cai")
	require.NoError(t, err)
	assert.Equal(t, "http://rdmx6-jaaaa-aaaaa-aaadq-cai.localhost:4943", local.IdentityProvider)

	_, err = GetNetworkConstants("mainnet", "")
	assert.Error(t, err)
	assert.False(t, IsValidNetwork("mainnet"))
}

func TestStripQuote(t *testing.T) {
	assert.Equal(t, "abc", StripQuote(` "abc" `))
	assert.Equal(t, "https://gw", NormalizeEndpoint(" https://gw/ "))
}
