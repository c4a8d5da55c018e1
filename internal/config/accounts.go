package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// AccountKind selects the protocol an account speaks.
type AccountKind string

const (
	KindExchange AccountKind = "exchange"
	KindIMAP     AccountKind = "imap"
	KindPOP3     AccountKind = "pop3"
)

// Account describes one mailbox endpoint. The engine borrows the
// descriptor for the duration of a search and never mutates it.
type Account struct {
	Name     string      `yaml:"name"`
	Kind     AccountKind `yaml:"kind"`
	Host     string      `yaml:"host"`
	Port     int         `yaml:"port"`
	Username string      `yaml:"username"`
	Password string      `yaml:"password"`
	TLS      *bool       `yaml:"tls"`

	// Exchange only: explicit EWS endpoint and the mailbox address.
	// EWSURL defaults to https://<host>/EWS/Exchange.asmx.
	EWSURL  string `yaml:"ews_url"`
	Address string `yaml:"address"`
}

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// LoadAccounts reads account descriptors from a YAML file.
func LoadAccounts(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var file accountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured in %s", path)
	}

	for i := range file.Accounts {
		if err := file.Accounts[i].Validate(); err != nil {
			return nil, fmt.Errorf("account %d: %w", i+1, err)
		}
	}

	return file.Accounts, nil
}

// AccountByName finds an account descriptor by name.
func AccountByName(accounts []Account, name string) (*Account, error) {
	for i := range accounts {
		if accounts[i].Name == name {
			return &accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// Validate checks the per-kind required fields.
func (a *Account) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch a.Kind {
	case KindExchange:
		if a.Host == "" && a.EWSURL == "" {
			return fmt.Errorf("account %s: host or ews_url is required", a.Name)
		}
		if a.Address == "" {
			return fmt.Errorf("account %s: address is required for exchange", a.Name)
		}
	case KindIMAP, KindPOP3:
		if a.Host == "" {
			return fmt.Errorf("account %s: host is required", a.Name)
		}
		if a.Port < 0 || a.Port > 65535 {
			return fmt.Errorf("account %s: invalid port", a.Name)
		}
	default:
		return fmt.Errorf("account %s: unknown kind %q", a.Name, a.Kind)
	}
	if a.Username == "" {
		return fmt.Errorf("account %s: username is required", a.Name)
	}
	return nil
}

// UseTLS reports whether the connection should use TLS. Defaults to
// true when the accounts file does not say otherwise.
func (a *Account) UseTLS() bool {
	if a.TLS == nil {
		return true
	}
	return *a.TLS
}

// LogFields returns structured log fields for the account. Credentials
// are write-only secrets and never appear here.
func (a *Account) LogFields() logrus.Fields {
	return logrus.Fields{
		"account": a.Name,
		"kind":    a.Kind,
		"host":    a.Host,
	}
}
