package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_WithDefaults(t *testing.T) {
	t.Run("zero values pick up the clinical defaults", func(t *testing.T) {
		cfg := Config{}.withDefaults()
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("oversized trend window clamps to a year", func(t *testing.T) {
		cfg := Config{TrendWindowDays: 1825}.withDefaults()
		assert.Equal(t, maxTrendWindowDays, cfg.TrendWindowDays)
	})

	t.Run("in-range trend window passes through", func(t *testing.T) {
		cfg := Config{TrendWindowDays: 30}.withDefaults()
		assert.Equal(t, 30, cfg.TrendWindowDays)
	})
}
