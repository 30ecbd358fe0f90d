// ABOUTME: User settings persisted as TOML, read by the session controller for instructions
// ABOUTME: A missing file means empty settings; values are validated before every save

package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Themes a user may pick.
const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// Values is the on-disk shape of the settings file.
type Values struct {
	Instructions string `toml:"instructions"`
	Theme        string `toml:"theme"`
}

// Validate checks the theme is a known value. Empty means ThemeSystem.
func (v Values) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.Theme, validation.In(ThemeSystem, ThemeLight, ThemeDark)),
	)
}

// File holds settings loaded from path. It is safe for concurrent use.
type File struct {
	path string

	mu     sync.RWMutex
	values Values
}

// Load reads the settings file at path. A missing file yields empty settings
// that will be written to path on the first Save.
func Load(path string) (*File, error) {
	f := &File{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	if _, err := toml.Decode(string(data), &f.values); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}

	if err := f.values.Validate(); err != nil {
		return nil, fmt.Errorf("validating settings: %w", err)
	}

	return f, nil
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Instructions returns the user's custom system instructions, or "" when unset.
func (f *File) Instructions() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return strings.TrimSpace(f.values.Instructions)
}

// Theme returns the configured theme, defaulting to ThemeSystem.
func (f *File) Theme() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.values.Theme == "" {
		return ThemeSystem
	}
	return f.values.Theme
}

// Values returns a copy of the current settings.
func (f *File) Values() Values {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.values
}

// Update validates next, writes it to disk and makes it current. On error the
// previous values stay in effect.
func (f *File) Update(next Values) error {
	return f.modify(func(v *Values) { *v = next })
}

// SetInstructions replaces the custom instructions and saves.
func (f *File) SetInstructions(text string) error {
	return f.modify(func(v *Values) { v.Instructions = text })
}

// SetTheme replaces the theme and saves.
func (f *File) SetTheme(theme string) error {
	return f.modify(func(v *Values) { v.Theme = theme })
}

// modify applies change to a copy of the current values and saves the result,
// all under the write lock so concurrent setters don't drop each other's edits.
func (f *File) modify(change func(*Values)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.values
	change(&next)

	if err := next.Validate(); err != nil {
		return fmt.Errorf("validating settings: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(next); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing settings file: %w", err)
	}

	f.values = next
	return nil
}
