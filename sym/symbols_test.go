package sym

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCommandMapsAgree(t *testing.T) {
	assert.Len(t, CommandToSymbol, len(SymbolToCommand))
	for symbol, cmd := range SymbolToCommand {
		assert.Equal(t, symbol, CommandToSymbol[cmd], "command %s", cmd)
		assert.NotEmpty(t, CommandDescriptions[cmd], "command %s has no description", cmd)
		assert.Equal(t, 1, utf8.RuneCountInString(symbol), "glyph for %s is a single rune", cmd)
	}
	assert.Len(t, CommandDescriptions, len(CommandToSymbol))
}

func TestGlyphsAreDistinct(t *testing.T) {
	seen := map[string]string{}
	for name, g := range map[string]string{
		"AM": AM, "IX": IX, "Pulse": Pulse, "DB": DB,
		"PulseOpen": PulseOpen, "PulseClose": PulseClose,
	} {
		if other, dup := seen[g]; dup {
			t.Errorf("%s and %s share glyph %q", name, other, g)
		}
		seen[g] = name
	}
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, AM+" ", Prefix("am"))
	assert.Equal(t, DB+" ", Prefix("records"))
	assert.Equal(t, "", Prefix("version"))
}
