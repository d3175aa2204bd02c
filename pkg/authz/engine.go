package authz

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/store"
	"github.com/toolgate/toolgate/pkg/telemetry"
)

// FreshnessBuffer is the minimum remaining token lifetime for
// ValidateTokenFreshness to consider a stored token usable.
const FreshnessBuffer = 300 * time.Second

var (
	// ErrAdminRoleRequired is returned when an admin-prefixed tool is
	// invoked without the admin role. Unlike ErrToolNotPermitted it is
	// surfaced to the caller as an explicit permission denial.
	ErrAdminRoleRequired = errors.New("permission denied: administrative role required")

	// ErrToolNotPermitted is returned when the tool is not in the
	// caller's permitted set. Callers must not reveal whether the tool
	// exists at all.
	ErrToolNotPermitted = errors.New("tool not in permitted set")
)

// Permissions is the introspection view of a caller's effective access.
type Permissions struct {
	SubjectID            string   `json:"subject_id"`
	ObjectID             string   `json:"object_id"`
	Roles                []string `json:"roles"`
	EffectivePermissions []string `json:"effective_permissions"`
}

// Engine makes allow/deny decisions for tool listing and invocation.
// It holds no per-request state; every decision is a pure function of
// the caller's roles and the catalog, so a single Engine is safe under
// arbitrary request concurrency.
type Engine struct {
	mappings RoleMappings
	registry registry.Registry
	tokens   store.TokenStore
	metrics  *telemetry.Metrics
}

// EngineConfig configures an Engine. Only Registry is required for
// meaningful decisions; nil Mappings uses the built-in table, and a nil
// token store or metrics disables freshness checks and counting
// respectively.
type EngineConfig struct {
	Mappings RoleMappings
	Registry registry.Registry
	Tokens   store.TokenStore
	Metrics  *telemetry.Metrics
}

// NewEngine creates an Engine from the config.
func NewEngine(cfg EngineConfig) *Engine {
	mappings := cfg.Mappings
	if mappings == nil {
		mappings = DefaultRoleMappings()
	}
	return &Engine{
		mappings: mappings,
		registry: cfg.Registry,
		tokens:   cfg.Tokens,
		metrics:  cfg.Metrics,
	}
}

// FilterToolCatalog returns the subset of the catalog the roles permit.
// Empty roles yield an empty subset. A wildcard-granting role short-
// circuits to the full catalog. Roles are evaluated in lexicographic
// order so the result is deterministic for a fixed input.
func (e *Engine) FilterToolCatalog(_ context.Context, roles []string, catalog []registry.ToolDescriptor) []registry.ToolDescriptor {
	if len(roles) == 0 {
		logger.Warnw("tool catalog filtered for caller with no roles", "catalog_size", len(catalog))
		return []registry.ToolDescriptor{}
	}

	sortedRoles := slices.Clone(roles)
	slices.Sort(sortedRoles)

	for _, role := range sortedRoles {
		if e.mappings.GrantsWildcard(role) {
			return slices.Clone(catalog)
		}
	}

	seen := make(map[string]struct{})
	permitted := make([]registry.ToolDescriptor, 0, len(catalog))
	for _, role := range sortedRoles {
		tags := e.mappings.TagsForRole(role)
		if len(tags) == 0 {
			// Unknown roles grant nothing.
			continue
		}
		for _, tool := range catalog {
			if _, ok := seen[tool.Name]; ok {
				continue
			}
			if tool.HasAnyTag(tags) {
				seen[tool.Name] = struct{}{}
				permitted = append(permitted, tool)
			}
		}
	}

	return permitted
}

// SyncRegistry removes tools outside the permitted subset from the live
// registry. Per-tool failures are logged and do not abort the rest of
// the sync; removing an already-removed tool is a no-op.
func (e *Engine) SyncRegistry(_ context.Context, permitted []registry.ToolDescriptor) {
	if e.registry == nil {
		return
	}

	allowed := make(map[string]struct{}, len(permitted))
	for _, tool := range permitted {
		allowed[tool.Name] = struct{}{}
	}

	for _, tool := range e.registry.Catalog() {
		if _, ok := allowed[tool.Name]; ok {
			continue
		}
		if err := e.registry.RemoveTool(tool.Name); err != nil && !errors.Is(err, registry.ErrToolNotFound) {
			logger.Warnw("failed to remove tool from live registry", "tool", tool.Name, "error", err)
		}
	}
}

// AuthorizeInvocation decides whether the roles may invoke the named
// tool. Admin-prefixed tools are gated solely on the admin role; their
// tagging is irrelevant in either direction. All other tools must be in
// the caller's permitted subset.
func (e *Engine) AuthorizeInvocation(ctx context.Context, roles []string, toolName string) error {
	if strings.HasPrefix(toolName, AdminToolPrefix) {
		if !slices.Contains(roles, RoleAdmin) {
			e.recordDecision(toolName, telemetry.OutcomeDenied)
			logger.Warnw("admin tool invocation denied", "tool", toolName, "roles", roles)
			return ErrAdminRoleRequired
		}
		e.recordDecision(toolName, telemetry.OutcomeAllowed)
		return nil
	}

	catalog := e.catalog()
	for _, tool := range e.FilterToolCatalog(ctx, roles, catalog) {
		if tool.Name == toolName {
			e.recordDecision(toolName, telemetry.OutcomeAllowed)
			return nil
		}
	}

	e.recordDecision(toolName, telemetry.OutcomeDenied)
	logger.Infow("tool invocation denied", "tool", toolName, "roles", roles)
	return ErrToolNotPermitted
}

// GetUserPermissions returns the caller's identity and the sorted,
// de-duplicated union of tags its roles grant.
func (e *Engine) GetUserPermissions(caller *auth.CallerContext) Permissions {
	perms := Permissions{
		Roles:                []string{},
		EffectivePermissions: []string{},
	}
	if caller == nil {
		return perms
	}

	perms.SubjectID = caller.SubjectID
	perms.ObjectID = caller.ObjectID
	perms.Roles = slices.Clone(caller.Roles)
	if perms.Roles == nil {
		perms.Roles = []string{}
	}

	seen := make(map[string]struct{})
	for _, role := range caller.Roles {
		for _, tag := range e.mappings.TagsForRole(role) {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			perms.EffectivePermissions = append(perms.EffectivePermissions, tag)
		}
	}
	slices.Sort(perms.EffectivePermissions)

	return perms
}

// ValidateTokenFreshness reports whether the subject's stored token has
// more than FreshnessBuffer of lifetime left. Any store failure or
// missing record reports false.
func (e *Engine) ValidateTokenFreshness(ctx context.Context, subjectID string) bool {
	if e.tokens == nil || subjectID == "" {
		return false
	}

	record := e.tokens.LoadToken(ctx, subjectID)
	if record == nil {
		return false
	}
	return record.ExpiresAt.After(time.Now().Add(FreshnessBuffer))
}

func (e *Engine) catalog() []registry.ToolDescriptor {
	if e.registry == nil {
		return nil
	}
	return e.registry.Catalog()
}

func (e *Engine) recordDecision(tool, outcome string) {
	e.metrics.RecordAuthzDecision(outcome)
	e.metrics.RecordToolInvocation(tool, outcome)
}
