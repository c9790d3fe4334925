package keys

import (
	"encoding/hex"
	"os"
	"runtime"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// machineIDPaths are tried in order for a stable host identifier.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// Fingerprint returns a stable hex-encoded BLAKE2b-256 hash over host and
// runtime signals. It changes when the key material should not be reused,
// e.g. after moving the data directory to another machine or user.
func Fingerprint() string {
	signals := []string{runtime.GOOS, runtime.GOARCH}
	if host, err := os.Hostname(); err == nil {
		signals = append(signals, host)
	}
	if home, err := os.UserHomeDir(); err == nil {
		signals = append(signals, home)
	}
	for _, p := range machineIDPaths {
		if data, err := os.ReadFile(p); err == nil {
			signals = append(signals, strings.TrimSpace(string(data)))
			break
		}
	}
	return fingerprintOf(signals...)
}

func fingerprintOf(signals ...string) string {
	h, _ := blake2b.New(32, nil) // 32 bytes = 256 bits
	for _, s := range signals {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
