package seed

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedIDIsStable(t *testing.T) {
	a := seedID("project", "org", "Demo")
	b := seedID("project", "org", "Demo")
	assert.Equal(t, a, b)

	_, err := uuid.Parse(a)
	require.NoError(t, err)

	assert.NotEqual(t, a, seedID("project", "org", "Other"))
	assert.NotEqual(t, seedID("ab", "c"), seedID("a", "bc"))
}
