package auth

import (
	"os"
	"time"

	"mediadex/pkg/models"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It lets CI jobs and containers run without a keychain or config file.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve builds an account from environment variables
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	serverURL := os.Getenv("MEDIADEX_SERVER_URL")
	secret := os.Getenv("MEDIADEX_SECRET")

	if serverURL == "" || secret == "" {
		return nil, ErrCredentialsNotFound
	}

	source := models.SourceType(os.Getenv("MEDIADEX_SOURCE"))
	if source == "" {
		source = models.SourceChatArchive
	}

	// Environment variables carry a single unnamed account
	if name == "" {
		name = "default"
	}

	return &Account{
		Name:         name,
		Source:       source,
		ServerURL:    serverURL,
		Username:     os.Getenv("MEDIADEX_USERNAME"),
		Secret:       secret,
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv("MEDIADEX_SERVER_URL") != "" && os.Getenv("MEDIADEX_SECRET") != ""
}
