// Package profile lays out the per-profile state directory. A profile is an
// independent login with its own database, lock and logs.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.msgdash.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".msgdash")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Paths locates the files of one profile under a base directory.
type Paths struct {
	Base string
	Name string
}

// For returns the paths of profile name under BaseDir.
func For(name string) Paths {
	return Paths{Base: BaseDir(), Name: name}
}

// Dir returns the profile directory.
func (p Paths) Dir() string {
	return filepath.Join(p.Base, "profiles", p.Name)
}

// LockPath returns the single-instance lock file.
func (p Paths) LockPath() string {
	return filepath.Join(p.Dir(), "LOCK")
}

// DBPath returns the client state database.
func (p Paths) DBPath() string {
	return filepath.Join(p.Dir(), "msgdash.db")
}

// LogDir returns the log directory.
func (p Paths) LogDir() string {
	return filepath.Join(p.Dir(), "logs")
}

// LogPath returns the log file.
func (p Paths) LogPath() string {
	return filepath.Join(p.LogDir(), "msgdash.log")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func (p Paths) EnsureDir() error {
	for _, d := range []string{p.Dir(), p.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
