// Package utils contains logging, filesystem path and NAT helpers shared by
// the InfraControl binaries.
package utils

import (
	"path/filepath"
	"strings"
)

// Paths resolves the on-disk locations used by the dashboard.
type Paths struct {
	RootPath string `json:"root_path"`
}

// NewPaths constructs Paths rooted at the specified directory.
func NewPaths(rootPath string) *Paths {
	return &Paths{RootPath: rootPath}
}

// PathsForConfig roots paths at the directory holding the config file.
func PathsForConfig(configFile string) *Paths {
	dir := filepath.Dir(strings.TrimSpace(configFile))
	if dir == "" {
		dir = "."
	}
	return NewPaths(dir)
}

// LogsDir returns the logs directory.
func (p *Paths) LogsDir() string {
	return filepath.Join(p.RootPath, "logs")
}

// LogFile returns the main log file path.
func (p *Paths) LogFile() string {
	return filepath.Join(p.LogsDir(), "infracontrol.log")
}

// CollectorLogFile returns the collector's log file path.
func (p *Paths) CollectorLogFile() string {
	return filepath.Join(p.LogsDir(), "infracollector.log")
}

// StaticDir returns the default frontend directory.
func (p *Paths) StaticDir() string {
	return filepath.Join(p.RootPath, "frontend")
}

// Resolve returns path unchanged when absolute, otherwise joined to RootPath.
func (p *Paths) Resolve(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.RootPath, path)
}
