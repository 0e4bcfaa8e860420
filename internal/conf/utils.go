// conf/utils.go various util functions for configuration package
package conf

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hyescribe/hyescribe/internal/errors"
)

// OS name constants for runtime.GOOS comparisons.
const (
	osWindows = "windows"
)

// GetDefaultConfigPaths returns a list of default configuration paths for the
// current operating system. If a config.yaml file is found in any of the
// paths, it returns that path as the only default.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "hyescribe"),
		}
	default:
		configPaths = []string{
			".",
			filepath.Join(homeDir, ".config", "hyescribe"),
			"/etc/hyescribe",
		}
	}

	for _, path := range configPaths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// ScratchDir returns the configured scratch directory, falling back to the
// OS temp dir, and makes sure it exists.
func (s *Settings) ScratchDir() (string, error) {
	dir := s.Scratch.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "hyescribe")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create-scratch-dir").
			Build()
	}
	return dir, nil
}

// IsVideoFormat reports whether the file extension (without dot) is on the
// configured video whitelist.
func (s *Settings) IsVideoFormat(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, v := range s.Upload.VideoFormats {
		if ext == v {
			return true
		}
	}
	return false
}

// IsSupportedFormat reports whether the extension is accepted at all.
func (s *Settings) IsSupportedFormat(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range s.Upload.AudioFormats {
		if ext == a {
			return true
		}
	}
	return s.IsVideoFormat(ext)
}

// RunningInContainer checks if the program is running inside a container.
func RunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}
	if containerEnv, exists := os.LookupEnv("container"); exists && containerEnv != "" {
		return true
	}

	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return false
	}
	defer file.Close() //nolint:errcheck // read-only file

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "docker") || strings.Contains(line, "podman") {
			return true
		}
	}

	return false
}
