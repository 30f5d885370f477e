package secret

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvStore implements SecretStore over process environment variables.
// Keys are upper-cased and prefixed, so Get("jira_access_token") with prefix
// "MDJIRA_" reads MDJIRA_JIRA_ACCESS_TOKEN.
type EnvStore struct {
	prefix string
}

// NewEnvStore creates an EnvStore. Any dotenv files given are loaded first;
// variables already set in the environment win over file values.
// Missing files are skipped.
func NewEnvStore(prefix string, dotenvFiles ...string) (*EnvStore, error) {
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return &EnvStore{prefix: prefix}, nil
}

func (e *EnvStore) name(key string) string {
	return e.prefix + strings.ToUpper(key)
}

func (e *EnvStore) Set(key string, value []byte) error {
	return os.Setenv(e.name(key), string(value))
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	v, ok := os.LookupEnv(e.name(key))
	if !ok {
		return nil, nil
	}
	return []byte(strings.TrimSpace(v)), nil
}

func (e *EnvStore) Delete(key string) error {
	return os.Unsetenv(e.name(key))
}
