package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"mediadex/pkg/models"
)

// Account holds the credentials for one linked source account. Secret is
// the chat-archive bearer token or the panel password, depending on Source.
type Account struct {
	Name         string            `json:"name"`
	Source       models.SourceType `json:"source"`
	ServerURL    string            `json:"server_url"`
	Username     string            `json:"username,omitempty"`
	Secret       string            `json:"secret"`
	LastModified time.Time         `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving accounts
type CredentialStore interface {
	// Store saves an account under its name
	Store(account *Account) error

	// Retrieve gets the account with the given name
	Retrieve(name string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes the account with the given name
	Delete(name string) error

	// Exists checks if an account with the given name is stored
	Exists(name string) bool
}

// Manager handles account storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a new credential manager with appropriate storage backends
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	// Try keyring first (system keychain)
	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	// Always add encrypted file store as fallback
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "accounts.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Add environment store as last resort
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves an account using the first available store
func (m *Manager) Store(account *Account) error {
	if err := validateAccount(account); err != nil {
		return err
	}

	account.LastModified = time.Now()

	// Try each store in order
	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(account); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store account: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

func validateAccount(account *Account) error {
	if account == nil || account.Name == "" {
		return errors.New("account name is required")
	}
	switch account.Source {
	case models.SourceChatArchive:
		// Bearer-token source; no username needed.
	case models.SourcePanelTV:
		if account.Username == "" {
			return errors.New("panel accounts require a username")
		}
	default:
		return fmt.Errorf("unknown source: %q", account.Source)
	}
	if account.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if account.Secret == "" {
		return errors.New("secret is required")
	}
	return nil
}

// Retrieve gets the account from the first store that has it
func (m *Manager) Retrieve(name string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(name); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// RetrieveDefault gets the environment account if one is configured, or
// the first stored account otherwise.
func (m *Manager) RetrieveDefault() (*Account, error) {
	if envStore, ok := m.stores[len(m.stores)-1].(*EnvironmentStore); ok {
		if account, err := envStore.Retrieve(""); err == nil && account != nil {
			return account, nil
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}

	return nil, errors.New("no accounts linked")
}

// List returns all stored accounts from all stores
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			// Use the most recently modified version
			if existing, ok := accountMap[account.Name]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Name] = account
			}
		}
	}

	var result []*Account
	for _, account := range accountMap {
		result = append(result, account)
	}

	return result, nil
}

// Delete removes an account from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete account: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("account not found: %s", name)
	}

	return nil
}

// DeleteAll removes all stored accounts
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		_ = m.Delete(account.Name) // Ignore individual errors
	}

	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "mediadex")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "mediadex")
	default: // Linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "mediadex")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "mediadex")
		}
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount creates a copy of the account with the secret masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	return &Account{
		Name:         account.Name,
		Source:       account.Source,
		ServerURL:    account.ServerURL,
		Username:     account.Username,
		Secret:       maskString(account.Secret),
		LastModified: account.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("account not found")
	ErrInvalidCredentials  = errors.New("invalid account")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
