package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Quantus-Network/miner-console/internal/log"
)

// EnsureNodeKey makes sure the node's network identity key exists at
// keyFile, generating it with the node's own CLI when missing. An
// existing key is never touched, so the peer identity survives
// restarts and repairs.
func EnsureNodeKey(binary, keyFile string) error {
	if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
		return fmt.Errorf("create network directory: %w", err)
	}
	if _, err := os.Stat(keyFile); err == nil {
		return nil
	}

	log.Supervisor.Info().Str("file", keyFile).Msg("Generating node key")
	cmd := exec.Command(binary, "key", "generate-node-key", "--file", keyFile)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("generate node key: %w: %s", err, msg)
		}
		return fmt.Errorf("generate node key: %w", err)
	}
	if _, err := os.Stat(keyFile); err != nil {
		return fmt.Errorf("node key generation reported success but %s does not exist", keyFile)
	}
	return nil
}
