package bridge

import (
	"os"
	"os/exec"
	"path/filepath"
)

// DefaultCandidates are looked up in PATH, in order. The first is the name
// script installations use to avoid clashing with a system runtime.
var DefaultCandidates = []string{"extipc-node", "node"}

// RuntimeConfig controls where the runtime executable is looked for
type RuntimeConfig struct {
	// Override names the executable explicitly. When set, nothing else is
	// tried.
	Override string `yaml:"override"`
	// BundleDir is the root of a bundled distribution; its usr/bin/node is
	// used if present.
	BundleDir string `yaml:"bundle_dir"`
	// Candidates are executable names resolved through PATH
	Candidates []string `yaml:"candidates"`
}

// DefaultRuntimeConfig returns the default lookup, with BundleDir taken from
// $APPDIR
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		BundleDir:  os.Getenv("APPDIR"),
		Candidates: append([]string(nil), DefaultCandidates...),
	}
}

// FindRuntime resolves the executable used to run the extension host
func FindRuntime(cfg RuntimeConfig) (string, error) {
	if cfg.Override != "" {
		if isExecutableFile(cfg.Override) {
			return cfg.Override, nil
		}
		if path, err := exec.LookPath(cfg.Override); err == nil {
			return path, nil
		}
		return "", &Error{Type: ErrorTypeRuntimeNotFound, Message: "override " + cfg.Override + " is not an executable"}
	}

	if cfg.BundleDir != "" {
		path := filepath.Join(cfg.BundleDir, "usr", "bin", "node")
		if isExecutableFile(path) {
			return path, nil
		}
	}

	candidates := cfg.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", &Error{Type: ErrorTypeRuntimeNotFound, Message: "none of the candidates found in PATH"}
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
