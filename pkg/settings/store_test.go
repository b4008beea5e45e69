package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewStoreWritesDefaults(t *testing.T) {
	db := openTestDB(t)

	st, err := NewStore(db)
	require.NoError(t, err)

	settings, err := st.Get()
	require.NoError(t, err)
	assert.Equal(t, defaultSettings, settings)
}

func TestSetGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	st, err := NewStore(db)
	require.NoError(t, err)

	want := Settings{
		FocuserMaxPosition: 7000,
		LastFocusPosition:  4200,
		MountParked:        true,
	}
	require.NoError(t, st.Set(want))

	got, err := st.Get()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSettingsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)

	st, err := NewStore(db)
	require.NoError(t, err)
	require.NoError(t, st.Set(Settings{LastFocusPosition: 1234}))
	require.NoError(t, db.Close())

	db, err = bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	st, err = NewStore(db)
	require.NoError(t, err)

	settings, err := st.Get()
	require.NoError(t, err)
	assert.Equal(t, 1234, settings.LastFocusPosition)
}
