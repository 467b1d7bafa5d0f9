package vault

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keyhaven/internal/config"
	"keyhaven/internal/crypto"
	models "keyhaven/internal/domain/models/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
	"keyhaven/internal/keystore"
	"keyhaven/internal/queue"
)

const testProject = "project-1"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticKeys serves one fixed key and salt, memoising blind indexes
type staticKeys struct {
	mu    sync.Mutex
	key   []byte
	salt  []byte
	index map[string]string
}

func newStaticKeys() *staticKeys {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return &staticKeys{key: key, salt: []byte("0123456789abcdef"), index: make(map[string]string)}
}

func (k *staticKeys) ProjectKey(ctx context.Context, projectID string) ([]byte, error) {
	return k.key, nil
}

func (k *staticKeys) BlindIndex(ctx context.Context, projectID, secretName string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if bi, ok := k.index[secretName]; ok {
		return bi, nil
	}
	bi, err := crypto.BlindIndex(secretName, k.salt)
	if err != nil {
		return "", err
	}
	k.index[secretName] = bi
	return bi, nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *memStore
	keys     *staticKeys
	queue    *queue.MemoryQueue
	keystore *keystore.MemoryKeystore
	tunables config.Tunables

	folders     vaultSvc.FolderStore
	resolver    vaultSvc.ImportResolver
	mutations   vaultSvc.MutationEngine
	approvals   vaultSvc.ApprovalService
	snapshots   vaultSvc.SnapshotService
	sync        vaultSvc.SyncService
	reminders   vaultSvc.ReminderService
	coordinator vaultSvc.ReplicationCoordinator
	secrets     vaultSvc.SecretService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()
	store := newMemStore()
	keys := newStaticKeys()
	q := queue.NewMemoryQueue(logger)
	ks := keystore.NewMemoryKeystore(50 * time.Millisecond)
	tunables := config.DefaultTunables()

	envRepo := &fakeEnvRepo{store}
	folderRepo := &fakeFolderRepo{store}
	secretRepo := &fakeSecretRepo{store}
	versionRepo := &fakeVersionRepo{store}
	importRepo := &fakeImportRepo{store}
	txManager := &fakeTxManager{store}

	folders := NewFolderStore(folderRepo, envRepo, tunables.MaxFolderDepth, logger)
	resolver := NewImportResolver(folders, secretRepo, importRepo, tunables.ReadImportDepth, logger)
	reminders := NewReminderService(q, tunables.QueueAttempts, tunables.QueueBackoff, logger)
	mutations := NewMutationEngine(secretRepo, versionRepo, &fakeTagRepo{store}, txManager, reminders, logger)
	approvals := NewApprovalService(envRepo, &fakePolicyRepo{store}, &fakeRequestRepo{store}, txManager, logger)
	snapshots := NewSnapshotService(secretRepo, versionRepo, &fakeSnapshotRepo{store}, logger)
	syncSvc := NewSyncService(folders, importRepo, q, tunables, logger)
	coordinator := NewReplicationCoordinator(ReplicationDeps{
		Folders:     folders,
		Mutations:   mutations,
		Approvals:   approvals,
		Snapshots:   snapshots,
		Sync:        syncSvc,
		SecretRepo:  secretRepo,
		VersionRepo: versionRepo,
		ImportRepo:  importRepo,
		TxManager:   txManager,
		Keystore:    ks,
		Keys:        keys,
	}, tunables, logger)
	permissions := NewPermissionService(&fakeMembershipRepo{store}, logger)
	expander := NewSecretExpander(folders, secretRepo, keys, config.MaxSecretReferenceDepth, logger)
	secrets := NewSecretService(folders, resolver, expander, importRepo, permissions, keys, logger)

	return &harness{
		t:           t,
		ctx:         context.Background(),
		store:       store,
		keys:        keys,
		queue:       q,
		keystore:    ks,
		tunables:    tunables,
		folders:     folders,
		resolver:    resolver,
		mutations:   mutations,
		approvals:   approvals,
		snapshots:   snapshots,
		sync:        syncSvc,
		reminders:   reminders,
		coordinator: coordinator,
		secrets:     secrets,
	}
}

// addEnv creates an environment with its root folder
func (h *harness) addEnv(slug string) models.Environment {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	env := models.Environment{ID: "env-" + slug, ProjectID: testProject, Name: slug, Slug: slug}
	h.store.envs = append(h.store.envs, env)
	h.store.folders = append(h.store.folders, models.Folder{
		ID:      "root-" + slug,
		EnvID:   env.ID,
		Name:    models.RootFolderName,
		Version: 1,
	})
	return env
}

// mkdir creates every missing folder of secretPath and returns the last one
func (h *harness) mkdir(env models.Environment, secretPath string) models.Folder {
	h.t.Helper()
	segments, err := SplitSecretPath(secretPath)
	require.NoError(h.t, err)

	repo := &fakeFolderRepo{h.store}
	parentID := "root-" + env.Slug
	var current models.Folder
	for _, seg := range segments {
		child, err := repo.FindChild(h.ctx, parentID, seg)
		require.NoError(h.t, err)
		if child == nil {
			pid := parentID
			child = &models.Folder{EnvID: env.ID, ParentID: &pid, Name: seg}
			require.NoError(h.t, repo.Create(h.ctx, child))
		}
		current = *child
		parentID = child.ID
	}
	if len(segments) == 0 {
		folders, err := repo.GetByIDs(h.ctx, []string{parentID})
		require.NoError(h.t, err)
		current = folders[0]
	}
	return current
}

func (h *harness) spec(name, value string) models.SecretSpec {
	h.t.Helper()
	bi, err := h.keys.BlindIndex(h.ctx, testProject, name)
	require.NoError(h.t, err)
	fields, err := EncryptFields(name, value, "", h.keys.key)
	require.NoError(h.t, err)
	return models.SecretSpec{BlindIndex: bi, Type: models.SecretTypeShared, EncryptedFields: fields}
}

func (h *harness) personalSpec(name, value, userID string) models.SecretSpec {
	s := h.spec(name, value)
	s.Type = models.SecretTypePersonal
	s.UserID = &userID
	return s
}

// put inserts shared secrets given as NAME=value pairs
func (h *harness) put(folder models.Folder, pairs ...string) []models.Secret {
	h.t.Helper()
	specs := make([]models.SecretSpec, 0, len(pairs))
	for _, pair := range pairs {
		name, value, _ := strings.Cut(pair, "=")
		specs = append(specs, h.spec(name, value))
	}
	secrets, err := h.mutations.BulkInsert(h.ctx, folder.ID, specs)
	require.NoError(h.t, err)
	return secrets
}

func (h *harness) addImport(importer models.Folder, env models.Environment, importPath string, replication bool) models.SecretImport {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	position := 1
	for _, imp := range h.store.imports {
		if imp.FolderID == importer.ID {
			position++
		}
	}
	imp := models.SecretImport{
		ID:            h.store.nextID("import"),
		FolderID:      importer.ID,
		ImportEnvID:   env.ID,
		ImportEnvSlug: env.Slug,
		ImportPath:    importPath,
		Position:      position,
		IsReplication: replication,
	}
	h.store.imports = append(h.store.imports, imp)
	return imp
}

func (h *harness) importByID(id string) models.SecretImport {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	for _, imp := range h.store.imports {
		if imp.ID == id {
			return imp
		}
	}
	h.t.Fatalf("import %s not found", id)
	return models.SecretImport{}
}

// plain decrypts secrets into a NAME -> value map
func (h *harness) plain(secrets []models.Secret) map[string]string {
	h.t.Helper()
	out := make(map[string]string, len(secrets))
	for _, s := range secrets {
		d, err := decryptSecret(s, h.keys.key)
		require.NoError(h.t, err)
		out[d.Key] = d.Value
	}
	return out
}

func (h *harness) grant(actorID string, role models.MemberRole) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.roles[testProject+":"+actorID] = role
}
