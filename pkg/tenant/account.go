// Package tenant describes the independently authenticated school accounts
// whose usage records are fetched and merged.
package tenant

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoAccounts is returned when an account list is empty.
	ErrNoAccounts = errors.New("no tenant accounts configured")

	// ErrDuplicateName is returned when two accounts share a display name.
	ErrDuplicateName = errors.New("duplicate tenant name")

	// ErrUnknownTenant is returned by Select for a name not in the list.
	ErrUnknownTenant = errors.New("unknown tenant")
)

// Account identifies one school on the upstream platform.
type Account struct {
	// Name is the display name. Every record fetched for this account is
	// tagged with it.
	Name string `yaml:"name" json:"name"`

	// Phone is the login identifier.
	Phone string `yaml:"phone" json:"phone"`

	// Password is the login secret. Never logged or serialized.
	Password string `yaml:"password" json:"-"`
}

// HasCredentials reports whether both login identifier and secret are set.
func (a Account) HasCredentials() bool {
	return strings.TrimSpace(a.Phone) != "" && strings.TrimSpace(a.Password) != ""
}

// String returns the account without its secret.
func (a Account) String() string {
	return fmt.Sprintf("%s (%s)", a.Name, a.Phone)
}

// Names returns the display names in order.
func Names(accounts []Account) []string {
	names := make([]string, len(accounts))
	for i, acc := range accounts {
		names[i] = acc.Name
	}
	return names
}

// ValidateList checks that the list is non-empty and display names are unique.
// Missing credentials are not a list error: such accounts fail authentication
// individually.
func ValidateList(accounts []Account) error {
	if len(accounts) == 0 {
		return ErrNoAccounts
	}

	seen := make(map[string]struct{}, len(accounts))
	for i, acc := range accounts {
		if strings.TrimSpace(acc.Name) == "" {
			return fmt.Errorf("account %d: name is required", i)
		}
		if _, dup := seen[acc.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, acc.Name)
		}
		seen[acc.Name] = struct{}{}
	}
	return nil
}

// Select returns the accounts with the given names, in the order the names
// are listed. No names selects every account.
func Select(accounts []Account, names []string) ([]Account, error) {
	if len(names) == 0 {
		return accounts, nil
	}

	byName := make(map[string]Account, len(accounts))
	for _, acc := range accounts {
		byName[acc.Name] = acc
	}

	out := make([]Account, 0, len(names))
	for _, name := range names {
		acc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTenant, name)
		}
		out = append(out, acc)
	}
	return out, nil
}

// File is the on-disk account list.
//
//	accounts:
//	  - name: School A
//	    phone: "15100000000"
//	    password: ${SCHOOL_A_PASSWORD}
type File struct {
	Accounts []Account `yaml:"accounts"`
}

// Parse decodes an account file. Password values are environment-expanded.
func Parse(data []byte) ([]Account, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}

	for i := range f.Accounts {
		f.Accounts[i].Password = os.ExpandEnv(f.Accounts[i].Password)
	}

	if err := ValidateList(f.Accounts); err != nil {
		return nil, err
	}
	return f.Accounts, nil
}

// LoadFile reads and parses an account file.
func LoadFile(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return Parse(data)
}
