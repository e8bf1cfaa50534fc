package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/podwire/internal/compiler"
	"github.com/roach88/podwire/internal/ir"
	"github.com/roach88/podwire/internal/registry"
)

func TestLoad_JSONFile(t *testing.T) {
	result, errs := Load("testdata/messages.json", LoadModeCollectAll)
	require.Empty(t, errs)

	assert.Equal(t, []string{"testdata/messages.json"}, result.Files)
	assert.Len(t, result.Definitions, 5)
	assert.Equal(t, 5, result.Registry.Len())

	active := result.Registry.Filter(registry.Query{})
	assert.Len(t, active, 4, "soft-deleted plants message is hidden")

	flavor := result.Registry.Filter(registry.Query{
		Channel:      ir.ChannelNewswire,
		ContentTypes: []string{"flavor"},
	})
	require.Len(t, flavor, 1)
	assert.Equal(t, "news-flavor-coffee", flavor[0].ID)
}

func TestLoad_DirectoryCollectsAll(t *testing.T) {
	result, errs := Load("testdata/dir", LoadModeCollectAll)
	require.NotNil(t, result)

	require.NotEmpty(t, errs)
	var codes []string
	for _, err := range errs {
		var cfgErr compiler.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "ledger-bad", cfgErr.DefinitionID)
		codes = append(codes, cfgErr.Code)
	}
	assert.Contains(t, codes, compiler.ErrLedgerTrigger)

	assert.Len(t, result.Files, 3)
	_, ok := result.Registry.Get("email-bonus")
	assert.True(t, ok)

	news, ok := result.Registry.Get("newswire-1")
	require.True(t, ok, "missing id defaults to <channel>-<n>")
	assert.Equal(t, ir.DefaultProbability, news.Def.TriggerConfig.Probability)
	assert.Equal(t, ir.ImpactNone, news.Def.Impact.Kind)
	assert.True(t, news.Def.Active)
}

func TestLoad_FailFastStopsAtFirstBadFile(t *testing.T) {
	result, errs := Load("testdata/dir", LoadModeFailFast)

	require.NotEmpty(t, errs)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Registry.Len(), "registry is not built after a fail-fast stop")
}

func TestLoad_NotFound(t *testing.T) {
	result, errs := Load("testdata/nope", LoadModeCollectAll)
	assert.Nil(t, result)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoad_EmptyDirectory(t *testing.T) {
	_, errs := Load(t.TempDir(), LoadModeCollectAll)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestLoad_EmptyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	result, errs := Load(path, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeEmpty)
	assert.Equal(t, 0, result.Registry.Len())
}

func TestFindFiles(t *testing.T) {
	files, err := FindFiles("testdata/dir")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata/dir", "broken.json"),
		filepath.Join("testdata/dir", "email.cue"),
		filepath.Join("testdata/dir", "news.json"),
	}, files)

	_, err = FindFiles("load.go")
	assert.Error(t, err, "non-catalog file is rejected")
}

func TestLoadError_Error(t *testing.T) {
	err := &LoadError{Code: ErrCodeNotFound, Message: "catalog not found", Path: "x.json"}
	assert.Equal(t, "x.json: E005: catalog not found", err.Error())

	err = &LoadError{Code: ErrCodeGeneric, Message: "boom"}
	assert.Equal(t, "E001: boom", err.Error())
}
