// Package fs holds the file system helpers used for the player's data folder.
package fs

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

const (
	defaultDirectoryPermission = 0o740
	defaultFilePermission      = 0o600
)

// HomeFolder returns the home folder of the current user, or the working
// directory when it cannot be determined.
func HomeFolder() string {
	u, err := user.Current()
	if err != nil || u.HomeDir == "" {
		return "."
	}
	return u.HomeDir
}

// CreateSecureFolder creates folder with owner-only write permissions when
// it does not exist yet.
func CreateSecureFolder(folder string) (string, error) {
	exists, err := Exists(folder)
	if err != nil {
		return "", err
	}
	if exists {
		info, err := os.Stat(folder)
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return "", fmt.Errorf("%s is not a folder", folder)
		}
		return folder, nil
	}
	if err := os.MkdirAll(folder, defaultDirectoryPermission); err != nil {
		return "", fmt.Errorf("creating %s: %w", folder, err)
	}
	return folder, nil
}

// Exists returns whether the given file or directory exists.
func Exists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// SecureFileMode is the mode of the files holding player data.
func SecureFileMode() os.FileMode {
	return defaultFilePermission
}

// DataPath joins name to folder, creating folder if needed.
func DataPath(folder, name string) (string, error) {
	dir, err := CreateSecureFolder(folder)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
