package keepalive

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"
)

// pidFileRecord is the on-disk PID-file shape: JSON {pid, port, upstream,
// startedAt} rather than a bare PID, so an operator (or the client's
// respawn-on-mismatch check) inspecting the file can see which upstream a
// daemon owns without connecting to it.
type pidFileRecord struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	Upstream  string `json:"upstream"`
	StartedAt string `json:"startedAt"`
}

// AcquirePIDFile claims single-daemon-per-port ownership at path, recording
// port and upstream, for the launching command to call before constructing a
// Server (kept outside New so tests can build a Server without touching the
// filesystem's daemon-ownership state). Returns ok=false when a live daemon
// already owns the file.
func AcquirePIDFile(path string, port int, upstream string) (ok bool, err error) {
	return acquirePIDFile(path, port, upstream)
}

// acquirePIDFile claims single-daemon-per-port ownership (spec §4.3 "Process
// model": "a PID file under the temp dir identifies the owning daemon for a
// given port; a second launch for the same port finds a live PID and defers
// to it instead of binding twice").
//
// It returns ok=false, without error, when a live daemon already owns the
// file — the caller should treat that as "already running", not a failure.
func acquirePIDFile(path string, port int, upstream string) (ok bool, err error) {
	if _, ok := readLivePID(path); ok {
		return false, nil
	}
	record := pidFileRecord{
		PID:       os.Getpid(),
		Port:      port,
		Upstream:  upstream,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("encode pid file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write pid file: %w", err)
	}
	return true, nil
}

// readPIDRecord reads and decodes the JSON PID-file record at path.
func readPIDRecord(path string) (pidFileRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pidFileRecord{}, false
	}
	var record pidFileRecord
	if err := json.Unmarshal(data, &record); err != nil || record.PID <= 0 {
		return pidFileRecord{}, false
	}
	return record, true
}

// readLivePID reads path and reports whether it names a still-running
// process (signal 0 probe).
func readLivePID(path string) (pid int, ok bool) {
	record, ok := readPIDRecord(path)
	if !ok {
		return 0, false
	}
	if err := syscall.Kill(record.PID, 0); err != nil {
		return 0, false
	}
	return record.PID, true
}

// releasePIDFile removes path if it still names this process, leaving a
// stale or reclaimed file alone.
func releasePIDFile(path string) {
	record, ok := readPIDRecord(path)
	if !ok || record.PID != os.Getpid() {
		return
	}
	_ = os.Remove(path)
}

// signalStop sends SIGTERM to the daemon named by the PID file, a way to stop
// it without the HTTP /_stop endpoint. Nothing in this module calls it
// outside its tests; no stop path falls back to it.
func signalStop(path string) error {
	pid, ok := readLivePID(path)
	if !ok {
		return fmt.Errorf("no live daemon recorded at %s", path)
	}
	return syscall.Kill(pid, syscall.SIGTERM)
}
