package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassQuota_Limit(t *testing.T) {
	q := NewPassQuota(2)

	require.NoError(t, q.Take())
	require.NoError(t, q.Take())
	err := q.Take()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit is 2")
	assert.Equal(t, 2, q.Used())
}

func TestPassQuota_ZeroIsUnlimited(t *testing.T) {
	q := NewPassQuota(0)
	for range 1000 {
		require.NoError(t, q.Take())
	}
	assert.Equal(t, 1000, q.Used())
}
