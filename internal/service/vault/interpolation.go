package vault

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
)

var referencePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExtractReferences lists the references in value. A bare ${KEY} points at
// environment/secretPath; ${env.a.b.KEY} points at KEY under /a/b of env.
func ExtractReferences(value, environment, secretPath string) []models.SecretReference {
	var refs []models.SecretReference
	for _, match := range referencePattern.FindAllStringSubmatch(value, -1) {
		refs = append(refs, parseReference(match[1], environment, secretPath))
	}
	return refs
}

// parseReference reads the body of one ${...} relative to environment/secretPath
func parseReference(body, environment, secretPath string) models.SecretReference {
	entities := strings.Split(strings.TrimSpace(body), ".")
	if len(entities) == 1 {
		return models.SecretReference{
			Environment: environment,
			SecretPath:  secretPath,
			SecretKey:   entities[0],
		}
	}
	return models.SecretReference{
		Environment: entities[0],
		SecretPath:  joinSecretPath(entities[1 : len(entities)-1]),
		SecretKey:   entities[len(entities)-1],
	}
}

// formatMultiline quotes values spanning several lines with escaped newlines
func formatMultiline(value string) string {
	if !strings.Contains(value, "\n") {
		return value
	}
	return `"` + strings.ReplaceAll(value, "\n", `\n`) + `"`
}

type secretExpander struct {
	folders    vaultSvc.FolderStore
	secretRepo vaultRepo.SecretRepository
	keys       KeyProvider
	maxDepth   int
	logger     *slog.Logger
}

// NewSecretExpander creates an expander resolving cross-environment
// references through folders and secretRepo. References nested deeper than
// maxDepth are left as written.
func NewSecretExpander(
	folders vaultSvc.FolderStore,
	secretRepo vaultRepo.SecretRepository,
	keys KeyProvider,
	maxDepth int,
	logger *slog.Logger,
) vaultSvc.SecretExpander {
	return &secretExpander{
		folders:    folders,
		secretRepo: secretRepo,
		keys:       keys,
		maxDepth:   maxDepth,
		logger:     logger,
	}
}

// scopeValues holds the plaintext of one (environment, path) during an
// expansion. raw keeps values that still carry references.
type scopeValues struct {
	raw      map[string]string
	expanded map[string]string
}

func newScopeValues(secrets []models.DecryptedSecret) *scopeValues {
	v := &scopeValues{
		raw:      make(map[string]string),
		expanded: make(map[string]string, len(secrets)),
	}
	for _, s := range secrets {
		if referencePattern.MatchString(s.Value) {
			v.raw[s.Key] = s.Value
		} else {
			v.expanded[s.Key] = s.Value
		}
	}
	return v
}

// expansion holds the state of one Expand call
type expansion struct {
	*secretExpander
	projectID  string
	permission vaultSvc.ProjectPermission
	scopes     map[string]*scopeValues
}

func (e *secretExpander) Expand(
	ctx context.Context,
	projectID, environment, secretPath string,
	permission vaultSvc.ProjectPermission,
	secrets []models.DecryptedSecret,
) ([]models.DecryptedSecret, error) {
	x := &expansion{
		secretExpander: e,
		projectID:      projectID,
		permission:     permission,
		scopes: map[string]*scopeValues{
			importKey(environment, secretPath): newScopeValues(secrets),
		},
	}

	out := make([]models.DecryptedSecret, len(secrets))
	for i, s := range secrets {
		ref := models.SecretReference{Environment: environment, SecretPath: secretPath, SecretKey: s.Key}
		value, err := x.resolve(ctx, ref, make(map[string]bool), 0)
		if err != nil {
			return nil, err
		}
		if !s.SkipMultilineEncoding {
			value = formatMultiline(value)
		}
		s.Value = value
		out[i] = s
	}
	return out, nil
}

// resolve expands the secret ref points at against its own environment and
// path. An empty result leaves the reference as written.
func (x *expansion) resolve(ctx context.Context, ref models.SecretReference, chain map[string]bool, depth int) (string, error) {
	values, err := x.scope(ctx, ref.Environment, ref.SecretPath)
	if err != nil {
		return "", err
	}
	if value, ok := values.expanded[ref.SecretKey]; ok {
		return value, nil
	}

	id := importKey(ref.Environment, ref.SecretPath) + ":" + ref.SecretKey
	if chain[id] {
		return "", nil
	}
	if depth > x.maxDepth {
		x.logger.Debug("reference depth exceeded",
			"environment", ref.Environment,
			"secret_path", ref.SecretPath,
			"key", ref.SecretKey,
		)
		return "", nil
	}
	chain[id] = true

	value, ok := values.raw[ref.SecretKey]
	if !ok {
		x.logger.Debug("referenced secret not found",
			"environment", ref.Environment,
			"secret_path", ref.SecretPath,
			"key", ref.SecretKey,
		)
		return "", nil
	}

	for _, match := range referencePattern.FindAllStringSubmatch(value, -1) {
		target := parseReference(match[1], ref.Environment, ref.SecretPath)
		scope := vaultSvc.SecretScope{Environment: target.Environment, SecretPath: target.SecretPath}
		if !x.permission.Can(vaultSvc.ActionRead, scope) {
			return "", &domain.ForbiddenError{
				Message: fmt.Sprintf("not allowed to read referenced secrets at %s:%s", target.Environment, target.SecretPath),
			}
		}

		resolved, err := x.resolve(ctx, target, chain, depth+1)
		if err != nil {
			return "", err
		}
		if resolved != "" {
			value = strings.ReplaceAll(value, match[0], resolved)
		}
	}

	values.expanded[ref.SecretKey] = value
	return value, nil
}

// scope loads the shared secrets of (environment, path) once per expansion.
// An unknown environment or path yields no values.
func (x *expansion) scope(ctx context.Context, environment, secretPath string) (*scopeValues, error) {
	cacheKey := importKey(environment, secretPath)
	if values, ok := x.scopes[cacheKey]; ok {
		return values, nil
	}

	folder, err := x.folders.FindBySecretPath(ctx, x.projectID, environment, secretPath)
	if err != nil {
		x.logger.Debug("unresolvable reference", "environment", environment, "secret_path", secretPath, "error", err)
		folder = nil
	}
	if folder == nil {
		values := newScopeValues(nil)
		x.scopes[cacheKey] = values
		return values, nil
	}

	secrets, err := x.secretRepo.FindByFolderID(ctx, folder.ID, "")
	if err != nil {
		return nil, fmt.Errorf("load referenced secrets: %w", err)
	}
	projectKey, err := x.keys.ProjectKey(ctx, x.projectID)
	if err != nil {
		return nil, fmt.Errorf("load project key: %w", err)
	}
	plain := make([]models.DecryptedSecret, 0, len(secrets))
	for _, s := range secrets {
		d, err := decryptSecret(s, projectKey)
		if err != nil {
			return nil, err
		}
		plain = append(plain, d)
	}

	values := newScopeValues(plain)
	x.scopes[cacheKey] = values
	return values, nil
}
