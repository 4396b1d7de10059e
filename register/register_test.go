package register

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func Test_DeriveServerName(t *testing.T) {
	tests := []struct {
		name       string
		binaryPath string
		want       string
	}{
		{"strip -mcp suffix", "tokenindex-mcp", "tokenindex"},
		{"strip .exe and -mcp", "tokenindex-mcp.exe", "tokenindex"},
		{"no -mcp suffix passthrough", "myserver", "myserver"},
		{"only .exe suffix", "myserver.exe", "myserver"},
		{"full path stripped to base", "/usr/local/bin/tokenindex-mcp", "tokenindex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveServerName(tt.binaryPath)
			if got != tt.want {
				t.Errorf("DeriveServerName(%q) = %q, want %q", tt.binaryPath, got, tt.want)
			}
		})
	}
}

func Test_ParseScope(t *testing.T) {
	for _, valid := range []string{"project", "user"} {
		if _, err := ParseScope(valid); err != nil {
			t.Errorf("ParseScope(%q) error: %v", valid, err)
		}
	}
	if _, err := ParseScope("global"); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func Test_SplitArgs(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		dash           int
		wantPositional []string
		wantServer     []string
	}{
		{"no args", nil, -1, nil, nil},
		{"directory only", []string{"mydir"}, -1, []string{"mydir"}, nil},
		{"directory and server args", []string{"mydir", "--root", "/tmp"}, 1, []string{"mydir"}, []string{"--root", "/tmp"}},
		{"only server args", []string{"--root", "/tmp"}, 0, []string{}, []string{"--root", "/tmp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotPositional, gotServer := SplitArgs(tt.args, tt.dash)
			if !sliceEqual(gotPositional, tt.wantPositional) {
				t.Errorf("positional = %v, want %v", gotPositional, tt.wantPositional)
			}
			if !sliceEqual(gotServer, tt.wantServer) {
				t.Errorf("server args = %v, want %v", gotServer, tt.wantServer)
			}
		})
	}
}

func Test_Register_Project(t *testing.T) {
	tmpDir := t.TempDir()

	configPath, err := Register(Options{
		Scope:      ScopeProject,
		Directory:  tmpDir,
		ServerArgs: []string{"--root", tmpDir},
		BinaryPath: "/opt/bin/tokenindex-mcp",
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if configPath != filepath.Join(tmpDir, ".mcp.json") {
		t.Errorf("configPath = %q", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	var config struct {
		MCPServers map[string]mcpServerEntry `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &config); err != nil {
		t.Fatalf("parsing config: %v", err)
	}
	entry, ok := config.MCPServers["tokenindex"]
	if !ok {
		t.Fatalf("tokenindex entry missing: %s", data)
	}
	if runtime.GOOS != "windows" && !sliceEqual(entry.Args, []string{"serve", "--root", tmpDir}) {
		t.Errorf("args = %v", entry.Args)
	}
}

func Test_writeConfig_CreatesNewFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".mcp.json")

	entry := mcpServerEntry{Command: "/usr/bin/myserver", Args: []string{"serve"}}
	if err := writeConfig(configPath, "myserver", entry); err != nil {
		t.Fatalf("writeConfig() error: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}

	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		t.Fatalf("parsing config: %v", err)
	}
	servers, ok := config["mcpServers"].(map[string]any)
	if !ok {
		t.Fatal("mcpServers not found or not an object")
	}
	serverEntry, ok := servers["myserver"].(map[string]any)
	if !ok {
		t.Fatal("myserver entry not found or not an object")
	}
	if serverEntry["command"] != "/usr/bin/myserver" {
		t.Errorf("command = %v, want /usr/bin/myserver", serverEntry["command"])
	}
}

func Test_writeConfig_UpdatesExistingEntry(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".mcp.json")

	initial := map[string]any{
		"mcpServers": map[string]any{
			"other-server": map[string]any{"command": "/usr/bin/other"},
			"myserver":     map[string]any{"command": "/old/path"},
		},
		"theme": "dark",
	}
	initialData, _ := json.MarshalIndent(initial, "", "  ")
	os.WriteFile(configPath, initialData, 0644)

	entry := mcpServerEntry{Command: "/new/path", Args: []string{"serve"}}
	if err := writeConfig(configPath, "myserver", entry); err != nil {
		t.Fatalf("writeConfig() error: %v", err)
	}

	data, _ := os.ReadFile(configPath)
	var config map[string]any
	json.Unmarshal(data, &config)

	if config["theme"] != "dark" {
		t.Errorf("unrelated keys must be preserved, got %v", config["theme"])
	}
	servers := config["mcpServers"].(map[string]any)
	if other := servers["other-server"].(map[string]any); other["command"] != "/usr/bin/other" {
		t.Errorf("other-server command changed unexpectedly: %v", other["command"])
	}
	if mine := servers["myserver"].(map[string]any); mine["command"] != "/new/path" {
		t.Errorf("myserver command = %v, want /new/path", mine["command"])
	}
}

func Test_writeConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".mcp.json")

	os.WriteFile(configPath, []byte("not valid json{{{"), 0644)

	err := writeConfig(configPath, "myserver", mcpServerEntry{Command: "/usr/bin/myserver"})
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func Test_buildEntry(t *testing.T) {
	binaryPath := "/usr/local/bin/tokenindex-mcp"

	entry := buildEntry(binaryPath, []string{"--root", "/projects"})

	if runtime.GOOS == "windows" {
		want := []string{"/C", binaryPath, "serve", "--root", "/projects"}
		if entry.Command != "cmd" || !sliceEqual(entry.Args, want) {
			t.Errorf("entry = %+v, want cmd %v", entry, want)
		}
		return
	}
	if entry.Command != binaryPath {
		t.Errorf("command = %q, want %q", entry.Command, binaryPath)
	}
	if want := []string{"serve", "--root", "/projects"}; !sliceEqual(entry.Args, want) {
		t.Errorf("args = %v, want %v", entry.Args, want)
	}
}

func Test_resolveConfigPath(t *testing.T) {
	got, err := resolveConfigPath(ScopeProject, "")
	if err != nil {
		t.Fatalf("resolveConfigPath() error: %v", err)
	}
	absDir, _ := filepath.Abs(".")
	if want := filepath.Join(absDir, ".mcp.json"); got != want {
		t.Errorf("resolveConfigPath(project) = %q, want %q", got, want)
	}

	got, err = resolveConfigPath(ScopeUser, "")
	if err != nil {
		t.Fatalf("resolveConfigPath() error: %v", err)
	}
	homeDir, _ := os.UserHomeDir()
	if want := filepath.Join(homeDir, ".claude.json"); got != want {
		t.Errorf("resolveConfigPath(user) = %q, want %q", got, want)
	}
}

func sliceEqual(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
