package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("driver", "", "")
	flags.String("dsn", "", "")
	flags.String("schema", "", "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func unsetEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DATATABLE_DRIVER", "DATATABLE_DSN", "DATATABLE_SCHEMA"} {
		if prev, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { os.Setenv(key, prev) })
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	unsetEnv(t)

	cfg, err := LoadConfig(afero.NewMemMapFs(), "", configFlags(t))
	require.NoError(t, err)
	assert.Equal(t, &Config{Driver: "sqlite3", Schema: "schema"}, cfg)
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	unsetEnv(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/datatable.yaml", []byte("driver: postgres\ndsn: postgres://localhost/app\nschema: ./defs\n"), 0o644))

	cfg, err := LoadConfig(fs, "/etc/datatable.yaml", configFlags(t))
	require.NoError(t, err)
	assert.Equal(t, &Config{Driver: "postgres", DSN: "postgres://localhost/app", Schema: "./defs"}, cfg)
}

func TestLoadConfig_DefaultConfigFileInWorkingDir(t *testing.T) {
	unsetEnv(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(wd, "datatable.yaml"), []byte("dsn: app.db\n"), 0o644))

	cfg, err := LoadConfig(fs, "", configFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "app.db", cfg.DSN)
	assert.Equal(t, "sqlite3", cfg.Driver)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	unsetEnv(t)
	_, err := LoadConfig(afero.NewMemMapFs(), "/nowhere/datatable.yaml", configFlags(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config /nowhere/datatable.yaml")
}

func TestLoadConfig_Precedence(t *testing.T) {
	unsetEnv(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cfg.yaml", []byte("driver: sqlite\ndsn: from-file.db\nschema: file-schema\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, ".env", []byte("DATATABLE_DSN=from-dotenv.db\nDATATABLE_SCHEMA=dotenv-schema\n"), 0o644))
	t.Setenv("DATATABLE_SCHEMA", "env-schema")

	cfg, err := LoadConfig(fs, "/cfg.yaml", configFlags(t, "--driver", "memory"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Driver, "flag beats config file")
	assert.Equal(t, "from-dotenv.db", cfg.DSN, ".env beats config file")
	assert.Equal(t, "env-schema", cfg.Schema, "environment beats .env")
}

func TestLoadConfig_FlagBeatsDotenv(t *testing.T) {
	unsetEnv(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ".env", []byte("DATATABLE_DSN=from-dotenv.db\n"), 0o644))

	cfg, err := LoadConfig(fs, "", configFlags(t, "--dsn", "flag.db"))
	require.NoError(t, err)
	assert.Equal(t, "flag.db", cfg.DSN)
}

func TestReadDotenv(t *testing.T) {
	fs := afero.NewMemMapFs()

	entries, err := readDotenv(fs, ".env")
	require.NoError(t, err)
	assert.Nil(t, entries)

	require.NoError(t, afero.WriteFile(fs, ".env", []byte("# comment\nA=1\nB=\"two words\"\n"), 0o644))
	entries, err = readDotenv(fs, ".env")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "two words"}, entries)
}
