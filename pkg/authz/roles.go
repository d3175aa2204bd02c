// Package authz maps directory roles to permitted MCP tools and gates
// tool invocations on the resulting permission set.
package authz

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WildcardTag grants access to every tool in the catalog regardless of
// tagging.
const WildcardTag = "*"

// AdminToolPrefix marks tools that require the admin role no matter how
// they are tagged.
const AdminToolPrefix = "admin_"

// Well-known directory roles.
const (
	// RoleTaskRead grants read-style tool access.
	RoleTaskRead = "Task.Read"
	// RoleTaskWrite grants write-style tool access.
	RoleTaskWrite = "Task.Write"
	// RoleTaskDelete grants delete-style tool access.
	RoleTaskDelete = "Task.Delete"
	// RoleTaskAll grants access to every tool.
	RoleTaskAll = "Task.All"
	// RoleAdmin grants access to administrative tools.
	RoleAdmin = "MCPServer.Admin"
)

// RoleMappings maps a directory role name to the tool tags it permits.
type RoleMappings map[string][]string

// DefaultRoleMappings returns the built-in role-to-tag table.
func DefaultRoleMappings() RoleMappings {
	return RoleMappings{
		RoleTaskRead:   {"read", "view", "get", "list"},
		RoleTaskWrite:  {"write", "create", "update", "edit", "post", "put"},
		RoleTaskDelete: {"delete", "remove", "destroy"},
		RoleTaskAll:    {WildcardTag},
		RoleAdmin:      {"admin", "config", "manage"},
	}
}

// TagsForRole returns the tags a role permits. Unknown roles map to no
// tags.
func (m RoleMappings) TagsForRole(role string) []string {
	return m[role]
}

// GrantsWildcard reports whether the role's tag list contains the
// wildcard.
func (m RoleMappings) GrantsWildcard(role string) bool {
	for _, tag := range m[role] {
		if tag == WildcardTag {
			return true
		}
	}
	return false
}

// ConfigType identifies the role mapping configuration format.
type ConfigType string

// ConfigTypeRoleMappingV1 is the v1 role mapping configuration format.
const ConfigTypeRoleMappingV1 ConfigType = "rolemappingv1"

// Config is the on-disk authorization configuration. Deployments that
// need different role names or tag vocabularies override the built-in
// table with one of these.
type Config struct {
	// Version is the version of the configuration format.
	Version string `json:"version"`

	// Type is the configuration format type.
	Type ConfigType `json:"type"`

	// RoleMappings maps role names to permitted tool tags.
	RoleMappings RoleMappings `json:"role_mappings"`
}

// LoadConfig loads an authorization configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read authorization configuration file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse authorization configuration file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the authorization configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}

	switch c.Type {
	case ConfigTypeRoleMappingV1:
		if len(c.RoleMappings) == 0 {
			return fmt.Errorf("role_mappings is required for %s configuration", ConfigTypeRoleMappingV1)
		}
		for role, tags := range c.RoleMappings {
			if role == "" {
				return fmt.Errorf("role names must not be empty")
			}
			if len(tags) == 0 {
				return fmt.Errorf("role %s has no tags", role)
			}
		}
	default:
		return fmt.Errorf("invalid configuration type: %s", c.Type)
	}

	return nil
}
