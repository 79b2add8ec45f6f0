package clientid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"runtime"
	"strings"
)

var ErrNoStableTrait = errors.New("no stable machine trait available")

var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// MachineFingerprinter hashes the OS machine id with host traits. It fails
// when no machine id can be read, since hostname alone is not stable enough.
type MachineFingerprinter struct {
	Paths    []string
	Hostname func() (string, error)
}

func NewMachineFingerprinter() *MachineFingerprinter {
	return &MachineFingerprinter{Paths: machineIDPaths, Hostname: os.Hostname}
}

func (f *MachineFingerprinter) Fingerprint(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var machineID string
	for _, p := range f.Paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if v := strings.TrimSpace(string(raw)); v != "" {
			machineID = v
			break
		}
	}
	if machineID == "" {
		return "", ErrNoStableTrait
	}

	host := ""
	if f.Hostname != nil {
		host, _ = f.Hostname()
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{machineID, host, runtime.GOOS, runtime.GOARCH}, "|")))
	return hex.EncodeToString(sum[:16]), nil
}
