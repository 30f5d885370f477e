package secret

// SecretStore provides a pluggable interface for credentials: the Jira API
// token and the destination password. The service reads them from the
// environment, but the store can be swapped for Vault or similar.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Well-known secret keys.
const (
	KeyJiraUsername        = "JIRA_USERNAME"
	KeyJiraAccessToken     = "JIRA_ACCESS_TOKEN"
	KeyDestinationPassword = "DESTINATION_PASSWORD"
)

// GetString is Get for callers that want a string.
func GetString(s SecretStore, key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}
