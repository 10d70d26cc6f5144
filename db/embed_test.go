package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	assert.Equal(t, "001_schema", ms[0].Version)
	for _, table := range []string{"products", "product_sizes", "coupons", "orders", "api_keys"} {
		assert.Contains(t, ms[0].SQL, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
	assert.IsIncreasing(t, versions(ms))
}

func versions(ms []Migration) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Version
	}
	return out
}
