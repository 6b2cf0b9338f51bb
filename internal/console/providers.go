package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Installer locates the node executable. Downloading and updating
// binaries happens outside the engine.
type Installer interface {
	ResolveExecutable() (string, error)
}

// pathInstaller resolves the configured path first, then falls back to
// PATH lookup.
type pathInstaller struct {
	configured string
}

func (p pathInstaller) ResolveExecutable() (string, error) {
	if p.configured != "" {
		return p.configured, nil
	}
	path, err := exec.LookPath("quantus-node")
	if err != nil {
		return "", fmt.Errorf("quantus-node not found in PATH: %w", err)
	}
	return path, nil
}

// AccountProvider supplies the rewards address maintained by the
// external account tool. Key generation and custody stay outside the
// engine.
type AccountProvider interface {
	ResolveRewardsAddress() (string, error)
}

// fileAccountProvider reads the account file the external tool writes.
// A missing file means no address yet, not an error.
type fileAccountProvider struct {
	path string
}

type accountFile struct {
	Address string `json:"address"`
}

func (f fileAccountProvider) ResolveRewardsAddress() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	var acct accountFile
	if err := json.Unmarshal(data, &acct); err != nil {
		return "", fmt.Errorf("parse %s: %w", f.path, err)
	}
	return acct.Address, nil
}
