package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Config controls which events the auditor records and where they go.
type Config struct {
	// Component is the component name to use in audit events.
	Component string `json:"component,omitempty" yaml:"component,omitempty"`
	// EventTypes restricts auditing to the listed event types. Empty
	// means audit everything.
	EventTypes []string `json:"event_types,omitempty" yaml:"event_types,omitempty"`
	// ExcludeEventTypes suppresses the listed event types. Takes
	// precedence over EventTypes.
	ExcludeEventTypes []string `json:"exclude_event_types,omitempty" yaml:"exclude_event_types,omitempty"`
	// IncludeRequestData captures request bodies in audit events.
	IncludeRequestData bool `json:"include_request_data,omitempty" yaml:"include_request_data,omitempty"`
	// IncludeResponseData captures response bodies in audit events.
	IncludeResponseData bool `json:"include_response_data,omitempty" yaml:"include_response_data,omitempty"`
	// MaxDataSize caps captured request/response data in bytes.
	MaxDataSize int `json:"max_data_size,omitempty" yaml:"max_data_size,omitempty"`
	// LogFile is the audit log destination. Empty means stdout.
	LogFile string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

// DefaultConfig returns the default audit configuration. Payload capture
// is off by default for privacy.
func DefaultConfig() *Config {
	return &Config{
		IncludeRequestData:  false,
		IncludeResponseData: false,
		MaxDataSize:         1024,
	}
}

// LoadFromFile loads audit configuration from a JSON file.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit config file: %w", err)
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader loads audit configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	var config Config
	if err := json.NewDecoder(r).Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to decode audit config: %w", err)
	}
	return &config, nil
}

// GetLogWriter returns the writer audit events should go to.
func (c *Config) GetLogWriter() (io.Writer, error) {
	if c == nil || c.LogFile == "" {
		return os.Stdout, nil
	}

	file, err := os.OpenFile(filepath.Clean(c.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file %s: %w", c.LogFile, err)
	}
	return file, nil
}

// ShouldAuditEvent reports whether the event type passes the
// include/exclude filters.
func (c *Config) ShouldAuditEvent(eventType string) bool {
	for _, excludeType := range c.ExcludeEventTypes {
		if excludeType == eventType {
			return false
		}
	}

	if len(c.EventTypes) > 0 {
		for _, allowedType := range c.EventTypes {
			if allowedType == eventType {
				return true
			}
		}
		return false
	}

	return true
}

// CreateMiddleware creates an HTTP middleware from the configuration.
func (c *Config) CreateMiddleware() (func(http.Handler) http.Handler, error) {
	auditor, err := NewAuditor(c)
	if err != nil {
		return nil, fmt.Errorf("failed to create auditor: %w", err)
	}
	return auditor.Middleware, nil
}

// Validate checks the configuration for unknown event types and invalid
// limits.
func (c *Config) Validate() error {
	if c.MaxDataSize < 0 {
		return fmt.Errorf("max_data_size cannot be negative")
	}

	validEventTypes := map[string]bool{
		EventTypeAuthnClaims:    true,
		EventTypeAuthzDecision:  true,
		EventTypeMCPToolsList:   true,
		EventTypeMCPToolCall:    true,
		EventTypeMCPInitialize:  true,
		EventTypeMCPPing:        true,
		EventTypeMCPRequest:     true,
		EventTypeTokenExchange:  true,
		EventTypeTokenRefresh:   true,
		EventTypeLogout:         true,
		EventTypeSessionCreated: true,
		EventTypeSessionDeleted: true,
		EventTypeHTTPRequest:    true,
	}

	for _, eventType := range c.EventTypes {
		if !validEventTypes[eventType] {
			return fmt.Errorf("unknown event type: %s", eventType)
		}
	}
	for _, eventType := range c.ExcludeEventTypes {
		if !validEventTypes[eventType] {
			return fmt.Errorf("unknown exclude event type: %s", eventType)
		}
	}

	return nil
}
