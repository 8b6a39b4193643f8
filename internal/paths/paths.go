package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	daemonName = "stratad"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/stratad or /run/user/<uid>/stratad
//	macOS:   ~/Library/Caches/stratad/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, daemonName)
	}
	return filepath.Join(xdg.CacheHome, daemonName, "run")
}

// Default path to the Unix domain socket for CLI-to-daemon communication.
func Socket() string {
	return filepath.Join(Runtime(), daemonName+".sock")
}

// Default path to the PID file.
func PIDFile() string {
	return filepath.Join(Runtime(), daemonName+".pid")
}

// Path to the directory for persistent daemon state.
//
//	Linux:   $XDG_STATE_HOME/stratad or ~/.local/state/stratad
func State() string {
	return filepath.Join(xdg.StateHome, daemonName)
}

// Path to the directory where test reports are written.
//
// Reports land here on every build, pass or fail, so a failed build's
// diagnostics stay retrievable after the pipeline has aborted.
func Reports() string {
	return filepath.Join(State(), "reports")
}

// Default path to the local OCI layout cache directory.
//
//	Linux:   $XDG_CACHE_HOME/stratad/layers or ~/.cache/stratad/layers
func LayerCache() string {
	return filepath.Join(xdg.CacheHome, daemonName, "layers")
}
