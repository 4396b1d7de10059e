// Package register adds the server to an MCP client configuration file.
package register

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Scope selects which configuration file is written.
type Scope string

const (
	ScopeProject Scope = "project" // <directory>/.mcp.json
	ScopeUser    Scope = "user"    // ~/.claude.json
)

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeProject, ScopeUser:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q (must be \"project\" or \"user\")", s)
}

// Options describes one registration.
type Options struct {
	ServerName string
	Scope      Scope
	// Directory holds the project configuration; defaults to the working directory.
	Directory string
	// ServerArgs are appended after the serve subcommand.
	ServerArgs []string
	// BinaryPath defaults to the running executable.
	BinaryPath string
}

type mcpServerEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Register writes the server entry and returns the configuration file path.
// Other entries in the file are preserved.
func Register(opts Options) (string, error) {
	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		var err error
		if binaryPath, err = detectBinaryPath(); err != nil {
			return "", err
		}
	}
	serverName := opts.ServerName
	if serverName == "" {
		serverName = DeriveServerName(binaryPath)
	}

	configPath, err := resolveConfigPath(opts.Scope, opts.Directory)
	if err != nil {
		return "", err
	}
	if err := writeConfig(configPath, serverName, buildEntry(binaryPath, opts.ServerArgs)); err != nil {
		return "", err
	}
	return configPath, nil
}

// DeriveServerName extracts a server name from a binary path by stripping .exe and -mcp suffixes.
func DeriveServerName(binaryPath string) string {
	name := filepath.Base(binaryPath)
	name = strings.TrimSuffix(name, ".exe")
	name = strings.TrimSuffix(name, "-mcp")
	return name
}

// SplitArgs separates positional arguments from those after "--". dash is the
// index of the first argument after the separator, or -1 without one.
func SplitArgs(args []string, dash int) (positional, serverArgs []string) {
	if dash < 0 || dash > len(args) {
		return args, nil
	}
	return args[:dash], args[dash:]
}

func detectBinaryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("getting executable path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %s: %w", exe, err)
	}
	return resolved, nil
}

func resolveConfigPath(scope Scope, directory string) (string, error) {
	switch scope {
	case ScopeProject:
		if directory == "" {
			directory = "."
		}
		absDir, err := filepath.Abs(directory)
		if err != nil {
			return "", fmt.Errorf("resolving directory %s: %w", directory, err)
		}
		return filepath.Join(absDir, ".mcp.json"), nil
	case ScopeUser:
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(homeDir, ".claude.json"), nil
	}
	return "", fmt.Errorf("unknown scope %q", scope)
}

func buildEntry(binaryPath string, serverArgs []string) mcpServerEntry {
	args := append([]string{"serve"}, serverArgs...)
	if runtime.GOOS == "windows" {
		return mcpServerEntry{
			Command: "cmd",
			Args:    append([]string{"/C", binaryPath}, args...),
		}
	}
	return mcpServerEntry{
		Command: binaryPath,
		Args:    args,
	}
}

func writeConfig(configPath string, serverName string, entry mcpServerEntry) error {
	config := map[string]any{
		"mcpServers": map[string]any{},
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("parsing existing config %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading config %s: %w", configPath, err)
	}

	servers, ok := config["mcpServers"]
	if !ok {
		servers = map[string]any{}
		config["mcpServers"] = servers
	}
	serversMap, ok := servers.(map[string]any)
	if !ok {
		return fmt.Errorf("mcpServers in %s is not an object", configPath)
	}
	serversMap[serverName] = entry

	output, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	output = append(output, '\n')

	// Write to a temp file in the same directory, then rename over the original
	configDir := filepath.Dir(configPath)
	tmpFile, err := os.CreateTemp(configDir, ".mcp-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", configDir, err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(output); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, configPath, err)
	}
	return nil
}
