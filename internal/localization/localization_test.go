package localization_test

import (
	"agora/backend/internal/localization"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LoadsEmbeddedCatalogs(t *testing.T) {
	l := localization.Default()

	assert.Equal(t, []string{"en", "uk"}, l.Languages())
	assert.Equal(t, "The community creator cannot be removed.", l.GetString("en", "target_is_creator"))
	assert.NotEqual(t, l.GetString("en", "throttled"), l.GetString("uk", "throttled"))
}

func TestGetString_FallsBackToEnglishThenKey(t *testing.T) {
	l := localization.Default()

	// "kick_passed" only exists in the English catalog
	assert.Equal(t, l.GetString("en", "kick_passed"), l.GetString("uk", "kick_passed"))
	assert.Equal(t, "no_such_key", l.GetString("uk", "no_such_key"))
	assert.Equal(t, "Kick passed: B was removed from club.", l.GetStringf("en", "kick_passed", "B", "club"))
}

func TestNewLocalizerFS_RejectsBrokenFile(t *testing.T) {
	fsys := fstest.MapFS{
		"i18n/en.json": {Data: []byte(`{"a":"b"}`)},
		"i18n/de.json": {Data: []byte(`{broken`)},
	}

	_, err := localization.NewLocalizerFS(fsys, "i18n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "de.json")
}
