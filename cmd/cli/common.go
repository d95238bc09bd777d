package cli

// ──────────────────────────────────────────────────────────────────────────────
// Shared CLI middleware: environment loading, logger setup, keystore access
// and exit-code mapping.
//
// Env variables (add to .env):
//   ZHTP_CONFIG_DIR – keystore/trustdb/audit location (default ~/.zhtp)
//   ZHTP_SERVER     – node RPC address (default 127.0.0.1:9443)
//   LOG_LEVEL       – trace|debug|info|warn|error (default info)
// ──────────────────────────────────────────────────────────────────────────────

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"zhtp-network/core"
	"zhtp-network/pkg/utils"
)

var (
	cliLogger = logrus.StandardLogger()
	cliOnce   sync.Once
)

func initCliMiddleware(cmd *cobra.Command, _ []string) error {
	var err error
	cliOnce.Do(func() {
		_ = godotenv.Load()

		lvlStr := utils.EnvOrDefault("LOG_LEVEL", "info")
		lvl, e := logrus.ParseLevel(lvlStr)
		if e != nil {
			err = fmt.Errorf("invalid LOG_LEVEL: %w", e)
			return
		}
		cliLogger.SetLevel(lvl)
	})
	return err
}

func serverAddr() string {
	return utils.EnvOrDefault("ZHTP_SERVER", "127.0.0.1:9443")
}

func configDir() string {
	return core.DefaultConfigDir()
}

func trustDBPath() string {
	return filepath.Join(configDir(), "trustdb")
}

func auditLogPath() string {
	return filepath.Join(configDir(), "audit.log")
}

func keystoreDir() string {
	return filepath.Join(configDir(), "keystore")
}

// loadIdentity opens the keystore; deployment requires a persistent
// identity, so there is no ephemeral fallback.
func loadIdentity() (*core.Keypair, error) {
	kp, err := core.LoadKeystore(keystoreDir())
	if err != nil {
		return nil, fmt.Errorf("load identity (run `zhtp identity init` first): %w", err)
	}
	return kp, nil
}

// trustConfigFromFlags assembles the trust model for client connections.
func trustConfigFromFlags(mode, pinHex string) (core.TrustConfig, error) {
	switch mode {
	case "pinned":
		if pinHex == "" {
			return core.TrustConfig{}, errors.New("pinned mode requires --pin")
		}
		pin, err := hexDecode(pinHex)
		if err != nil {
			return core.TrustConfig{}, fmt.Errorf("bad --pin: %w", err)
		}
		return core.TrustConfig{Mode: core.TrustPinned, PinnedSPKI: pin, DBPath: trustDBPath()}, nil
	case "tofu", "":
		return core.TrustConfig{Mode: core.TrustTOFU, DBPath: trustDBPath()}, nil
	case "strict":
		return core.TrustConfig{Mode: core.TrustStrict, DBPath: trustDBPath()}, nil
	case "bootstrap":
		cliLogger.Warn("bootstrap trust mode: certificate verification DISABLED")
		return core.TrustConfig{Mode: core.TrustBootstrap, DBPath: trustDBPath()}, nil
	default:
		return core.TrustConfig{}, fmt.Errorf("unknown trust mode %q", mode)
	}
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// ExitCode maps the error taxonomy onto process exit codes:
// 0 success, 1 generic, 2 bad input, 3 unauthorized, 4 network, 5 CAS
// conflict.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, core.ErrInputInvalid):
		return 2
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, core.ErrCryptoFail):
		return 3
	case errors.Is(err, core.ErrTransient):
		return 4
	case errors.Is(err, core.ErrConflict):
		return 5
	default:
		return 1
	}
}

// fail prints to stderr and returns the error for cobra to propagate.
func fail(err error) error {
	fmt.Fprintln(os.Stderr, "error:", err)
	return err
}
