package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, float64(DefaultRateLimit), cfg.RateLimit.Rate)
	assert.Equal(t, DefaultRateLimitBurst, cfg.RateLimit.Burst)
	assert.Equal(t, DefaultPendingAuthorizationTTL, cfg.PendingAuthorizationTTL)
	assert.Equal(t, DefaultMaxPendingAuthorizations, cfg.MaxPendingAuthorizations)
	assert.Equal(t, DefaultMaxLoginAttempts, cfg.MaxLoginAttempts)
	assert.False(t, cfg.SkipLogin)
}

func TestApplyHandlerDefaults(t *testing.T) {
	tests := []struct {
		name  string
		input Config
		want  Config
	}{
		{
			name:  "zero values",
			input: Config{},
			want: Config{
				PendingAuthorizationTTL:  DefaultPendingAuthorizationTTL,
				MaxPendingAuthorizations: DefaultMaxPendingAuthorizations,
				MaxLoginAttempts:         DefaultMaxLoginAttempts,
			},
		},
		{
			name: "explicit values kept",
			input: Config{
				RateLimit:                RateLimitConfig{Rate: 2, Burst: 4},
				PendingAuthorizationTTL:  time.Minute,
				MaxPendingAuthorizations: 5,
				MaxLoginAttempts:         1,
			},
			want: Config{
				RateLimit:                RateLimitConfig{Rate: 2, Burst: 4},
				PendingAuthorizationTTL:  time.Minute,
				MaxPendingAuthorizations: 5,
				MaxLoginAttempts:         1,
			},
		},
		{
			name:  "negative rate disables limiting",
			input: Config{RateLimit: RateLimitConfig{Rate: -1}},
			want: Config{
				PendingAuthorizationTTL:  DefaultPendingAuthorizationTTL,
				MaxPendingAuthorizations: DefaultMaxPendingAuthorizations,
				MaxLoginAttempts:         DefaultMaxLoginAttempts,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, applyHandlerDefaults(tt.input, discardLogger()))
		})
	}
}
