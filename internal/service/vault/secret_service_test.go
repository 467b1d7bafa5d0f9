package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
)

func decryptedMap(secrets []models.DecryptedSecret) map[string]string {
	out := make(map[string]string, len(secrets))
	for _, s := range secrets {
		out[s.Key] = s.Value
	}
	return out
}

func userActor(id string) models.Actor {
	return models.Actor{Type: models.ActorTypeUser, ID: id}
}

func TestGetEffectiveSecretsDecrypts(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	app := h.mkdir(dev, "/app")
	h.put(app, "A=1", "B=2")
	h.grant("user-1", models.MemberRoleMember)

	secrets, err := h.secrets.GetEffectiveSecrets(h.ctx, &vaultSvc.EffectiveSecretsRequest{
		ProjectID:   testProject,
		Environment: "dev",
		SecretPath:  "/app",
		Actor:       userActor("user-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, decryptedMap(secrets))
	for _, s := range secrets {
		assert.Equal(t, app.ID, s.FolderID)
		assert.Equal(t, models.SecretTypeShared, s.Type)
	}
}

func TestGetEffectiveSecretsPersonalOverride(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	app := h.mkdir(dev, "/app")
	h.put(app, "A=shared")
	_, err := h.mutations.BulkInsert(h.ctx, app.ID, []models.SecretSpec{h.personalSpec("A", "mine", "user-1")})
	require.NoError(t, err)
	h.grant("user-1", models.MemberRoleMember)
	h.grant("user-2", models.MemberRoleMember)

	req := &vaultSvc.EffectiveSecretsRequest{ProjectID: testProject, Environment: "dev", SecretPath: "/app", Actor: userActor("user-1")}
	secrets, err := h.secrets.GetEffectiveSecrets(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "mine"}, decryptedMap(secrets))

	req.Actor = userActor("user-2")
	secrets, err = h.secrets.GetEffectiveSecrets(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "shared"}, decryptedMap(secrets))

	// Personal overrides only apply to users
	req.Actor = models.Actor{Type: models.ActorTypeService, ID: "user-1"}
	secrets, err = h.secrets.GetEffectiveSecrets(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "shared"}, decryptedMap(secrets))
}

func TestGetEffectiveSecretsIncludesImports(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	prod := h.addEnv("prod")
	ab := h.mkdir(dev, "/a/b")
	ac := h.mkdir(dev, "/a/c")
	h.mkdir(prod, "/source")
	h.put(ab, "FOO=own")
	h.put(ac, "FOO=imported", "BAR=imported")
	h.addImport(ab, dev, "/a/c", false)
	repl := h.addImport(ab, prod, "/source", true)
	reserved := h.mkdir(dev, "/a/b/"+models.ReplicationFolderName(repl.ID))
	h.put(reserved, "REPLICATED=yes", "BAR=replicated")
	h.grant("user-1", models.MemberRoleViewer)

	req := &vaultSvc.EffectiveSecretsRequest{
		ProjectID:   testProject,
		Environment: "dev",
		SecretPath:  "/a/b",
		Actor:       userActor("user-1"),
	}
	secrets, err := h.secrets.GetEffectiveSecrets(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FOO": "own"}, decryptedMap(secrets))

	req.IncludeImports = true
	secrets, err = h.secrets.GetEffectiveSecrets(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"FOO":        "own",
		"BAR":        "replicated",
		"REPLICATED": "yes",
	}, decryptedMap(secrets))
}

func TestGetEffectiveSecretsPermissions(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	h.mkdir(dev, "/app")
	h.grant("viewer", models.MemberRoleViewer)

	req := &vaultSvc.EffectiveSecretsRequest{ProjectID: testProject, Environment: "dev", SecretPath: "/app"}

	req.Actor = userActor("viewer")
	_, err := h.secrets.GetEffectiveSecrets(h.ctx, req)
	require.NoError(t, err)

	req.Actor = userActor("stranger")
	_, err = h.secrets.GetEffectiveSecrets(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	req.Actor = models.Actor{}
	_, err = h.secrets.GetEffectiveSecrets(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestGetEffectiveSecretsErrors(t *testing.T) {
	h := newHarness(t)
	h.addEnv("dev")
	h.grant("user-1", models.MemberRoleAdmin)

	_, err := h.secrets.GetEffectiveSecrets(h.ctx, &vaultSvc.EffectiveSecretsRequest{ProjectID: testProject, SecretPath: "/", Actor: userActor("user-1")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.secrets.GetEffectiveSecrets(h.ctx, &vaultSvc.EffectiveSecretsRequest{ProjectID: testProject, Environment: "dev", SecretPath: "/bad path", Actor: userActor("user-1")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.secrets.GetEffectiveSecrets(h.ctx, &vaultSvc.EffectiveSecretsRequest{ProjectID: testProject, Environment: "dev", SecretPath: "/missing", Actor: userActor("user-1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetEffectiveSecretsExpands(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	prod := h.addEnv("prod")
	app := h.mkdir(dev, "/app")
	db := h.mkdir(prod, "/db")
	h.put(db, "HOST=db.prod")
	h.put(app,
		"USER=admin",
		"URL=postgres://${USER}@${prod.db.HOST}/app",
		"CERT=line1\nline2",
		"MISSING=${NOPE}-x",
	)
	h.grant("user-1", models.MemberRoleMember)

	secrets, err := h.secrets.GetEffectiveSecrets(h.ctx, &vaultSvc.EffectiveSecretsRequest{
		ProjectID:   testProject,
		Environment: "dev",
		SecretPath:  "/app",
		Expand:      true,
		Actor:       userActor("user-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"USER":    "admin",
		"URL":     "postgres://admin@db.prod/app",
		"CERT":    `"line1\nline2"`,
		"MISSING": "${NOPE}-x",
	}, decryptedMap(secrets))
}
