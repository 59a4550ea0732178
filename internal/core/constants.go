package core

import (
	"path"

	"github.com/blerps/blerps/internal/fs"
)

// DefaultConfigFolderName is the name of the folder holding the player's
// configuration and results journal. It is relative to the user's home
// directory.
const DefaultConfigFolderName = ".blerps"

// DefaultConfigFolder returns the default path of the configuration folder.
func DefaultConfigFolder() string {
	return path.Join(fs.HomeFolder(), DefaultConfigFolderName)
}

// DefaultDBFolder is the name of the folder in which the journal is saved.
// It is relative to the DefaultConfigFolder path.
const DefaultDBFolder = "db"

// DefaultConfigFileName is looked up in the configuration folder when no
// configuration file is given.
const DefaultConfigFileName = "blerps.toml"

// DefaultCryptoAlgorithm is the only commitment cipher supported.
const DefaultCryptoAlgorithm = "chacha20"
