package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the connection and schema settings shared by all commands.
type Config struct {
	Driver string `mapstructure:"driver"` // sqlite3, sqlite, postgres or memory
	DSN    string `mapstructure:"dsn"`
	Schema string `mapstructure:"schema"` // CUE file or directory
}

const (
	envPrefix      = "DATATABLE"
	configName     = "datatable"
	defaultDriver  = "sqlite3"
	defaultSchema  = "schema"
	dotenvFileName = ".env"
)

var configKeys = []string{"driver", "dsn", "schema"}

// LoadConfig resolves the configuration. Sources, highest first: flags,
// DATATABLE_* environment variables, a .env file in the working directory,
// the config file (path, or ./datatable.yaml when path is empty), defaults.
func LoadConfig(fs afero.Fs, path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetDefault("driver", defaultDriver)
	v.SetDefault("dsn", "")
	v.SetDefault("schema", defaultSchema)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	dotenv, err := readDotenv(fs, dotenvFileName)
	if err != nil {
		return nil, err
	}

	for _, key := range configKeys {
		var changed bool
		if flags != nil {
			if f := flags.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", key, err)
				}
				changed = f.Changed
			}
		}
		envKey := envPrefix + "_" + strings.ToUpper(key)
		if _, set := os.LookupEnv(envKey); set || changed {
			continue
		}
		if val, ok := dotenv[envKey]; ok {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// readDotenv parses path if it exists. A missing file yields no entries.
func readDotenv(fs afero.Fs, path string) (map[string]string, error) {
	f, err := fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	entries, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return entries, nil
}
