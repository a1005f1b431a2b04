package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthStrategy(t *testing.T) {
	for _, input := range []string{"reject", "ACCEPT-ANY", " allow-list "} {
		_, err := ParseAuthStrategy(input)
		assert.NoError(t, err, input)
	}
	_, err := ParseAuthStrategy("none")
	assert.Error(t, err)
}

func TestAuthStrategyText(t *testing.T) {
	var a AuthStrategy
	require.NoError(t, a.UnmarshalText([]byte("reject")))
	assert.Equal(t, AuthReject, a)

	b, err := a.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "reject", string(b))

	assert.Error(t, a.Set("bogus"))
	assert.Equal(t, AuthReject, a, "failed Set must leave the value alone")
}

func TestChannelKeyComparable(t *testing.T) {
	m := map[ChannelKey]int{}
	m[ChannelKey{Session: 1, Channel: 0}] = 1
	m[ChannelKey{Session: 1, Channel: 0}]++
	m[ChannelKey{Session: 1, Channel: 1}] = 5

	assert.Len(t, m, 2)
	assert.Equal(t, 2, m[ChannelKey{Session: 1, Channel: 0}])
	assert.Equal(t, "1/1", ChannelKey{Session: 1, Channel: 1}.String())
}
