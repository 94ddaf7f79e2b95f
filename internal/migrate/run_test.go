package migrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedVersions(t *testing.T) {
	versions, err := embeddedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_conversations", "0002_users"}, versions)
}

func TestMigrationApplied(t *testing.T) {
	assert.False(t, Migration{Version: "0001_conversations"}.Applied())
	now := time.Now()
	assert.True(t, Migration{Version: "0001_conversations", AppliedAt: &now}.Applied())
}
