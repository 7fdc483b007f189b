// Package config provides configuration types and loading for codewright.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Model    ModelConfig    `json:"model"`
	Provider ProviderConfig `json:"provider"`
	Security SecurityConfig `json:"security"`
	Tools    ToolsConfig    `json:"tools"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	// Project is the project root tools operate on. Defaults to the
	// working directory.
	Project string `json:"project" envconfig:"PROJECT"`
	// GrantsFile stores persistent permission grants.
	GrantsFile string `json:"grantsFile" envconfig:"GRANTS_FILE"`
	// AuditDB is the sqlite audit log. Empty disables auditing.
	AuditDB string `json:"auditDb" envconfig:"AUDIT_DB"`
}

// ModelConfig groups model and loop settings.
type ModelConfig struct {
	Name        string  `json:"name" envconfig:"MODEL"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxTurns    int     `json:"maxTurns" envconfig:"MAX_TURNS"`
}

// ProviderConfig configures the model completion backend.
type ProviderConfig struct {
	BaseURL string `json:"baseUrl" envconfig:"PROVIDER_BASE_URL"`
	APIKey  string `json:"apiKey" envconfig:"PROVIDER_API_KEY"`
}

// SecurityConfig groups permission settings.
type SecurityConfig struct {
	// SafeMode enables permission gating. Off means everything runs.
	SafeMode bool `json:"safeMode" envconfig:"SAFE_MODE"`
	// ApprovalTimeout bounds how long an approval prompt may stay open.
	// On expiry the call is rejected.
	ApprovalTimeout time.Duration `json:"approvalTimeout" envconfig:"APPROVAL_TIMEOUT"`
}

// ToolsConfig groups tool settings.
type ToolsConfig struct {
	// ShellTimeout is the per-command shell timeout.
	ShellTimeout time.Duration `json:"shellTimeout" envconfig:"SHELL_TIMEOUT"`
	// Exclude removes tools from the registry by name.
	Exclude []string `json:"exclude"`
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Model: ModelConfig{
			Name:      "gpt-4o",
			MaxTokens: 8192,
			MaxTurns:  20,
		},
		Provider: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Security: SecurityConfig{
			SafeMode:        true,
			ApprovalTimeout: 5 * time.Minute,
		},
		Tools: ToolsConfig{
			ShellTimeout: 2 * time.Minute,
		},
	}
}
