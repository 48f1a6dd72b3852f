package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicy(t *testing.T) {
	t.Run("invalid lease", func(t *testing.T) {
		policy, err := NewLeasePolicy(0, time.Minute)
		require.ErrorIs(t, err, ErrInvalidLease)
		assert.Nil(t, policy)
	})

	t.Run("negative execution timeout treated as unbounded", func(t *testing.T) {
		policy, err := NewLeasePolicy(time.Minute, -time.Second)
		require.NoError(t, err)
		d := policy.Resolve()
		assert.Equal(t, time.Minute, d.Lease)
		assert.False(t, d.Extended())
	})
}

func TestLeasePolicy_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		lease   time.Duration
		timeout time.Duration
		want    time.Duration
		source  LeaseSource
	}{
		{
			name:    "configured lease covers execution",
			lease:   15 * time.Minute,
			timeout: 10 * time.Minute,
			want:    15 * time.Minute,
			source:  LeaseSourceConfigured,
		},
		{
			name:    "lease extended past execution timeout",
			lease:   5 * time.Minute,
			timeout: 10 * time.Minute,
			want:    10*time.Minute + ackGrace,
			source:  LeaseSourceExtended,
		},
		{
			name:    "sub-second lease truncated",
			lease:   90*time.Second + 400*time.Millisecond,
			timeout: 0,
			want:    90 * time.Second,
			source:  LeaseSourceConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := NewLeasePolicy(tt.lease, tt.timeout)
			require.NoError(t, err)
			d := policy.Resolve()
			assert.Equal(t, tt.want, d.Lease)
			assert.Equal(t, tt.source, d.Source)
		})
	}
}

func TestLeasePolicy_NilReceiver(t *testing.T) {
	var p *LeasePolicy
	assert.Zero(t, p.Resolve().Lease)
}
