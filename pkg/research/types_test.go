package research

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mikeboe/deep-research/pkg/config"
)

func TestConfigFrom(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFrom(nil))
	assert.Equal(t, DefaultConfig(), ConfigFrom(&config.Config{ConcurrencyLimit: -1}))

	got := ConfigFrom(&config.Config{ConcurrencyLimit: 8, SearchTimeout: 30 * time.Second, SearchLimit: 3})
	assert.Equal(t, 8, got.ConcurrencyLimit)
	assert.Equal(t, 30*time.Second, got.SearchTimeout)
	assert.Equal(t, 3, got.SearchLimit)
	assert.Equal(t, 3, got.NumLearnings)
	assert.Equal(t, []string{"markdown"}, got.SearchFormats)
}
