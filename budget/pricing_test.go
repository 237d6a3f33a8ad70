package budget

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPriceLookupPrefersOverride(t *testing.T) {
	log := zerolog.New(io.Discard)
	overrides := map[string]ModelPrice{"gpt-4o": {Input: 1, Output: 2}}

	p := priceLookup("gpt-4o", overrides, log)

	assert.Equal(t, ModelPrice{Input: 1, Output: 2}, p)
}

func TestPriceLookupFallsBackToBuiltinTable(t *testing.T) {
	log := zerolog.New(io.Discard)

	p := priceLookup("gpt-4o-mini", nil, log)

	assert.Equal(t, defaultPricingTable()["gpt-4o-mini"], p)
}

func TestPriceLookupUsesUnpricedFallbackForUnknownModel(t *testing.T) {
	log := zerolog.New(io.Discard)

	p := priceLookup("some-unlisted-model", nil, log)

	assert.Equal(t, unpricedFallback, p)
}
