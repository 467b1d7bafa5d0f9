package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	"keyhaven/internal/domain/repositories"
)

// memStore is an in-memory stand-in for the database shared by the fake
// repositories below. writes counts secret row mutations.
type memStore struct {
	mu sync.Mutex

	envs      []models.Environment
	folders   []models.Folder
	secrets   []models.Secret
	versions  []models.SecretVersion
	tags      []models.SecretTag
	secTags   []models.TagLink
	verTags   []models.TagLink
	refs      map[string][]models.SecretReference
	imports   []models.SecretImport
	policies  []models.ApprovalPolicy
	requests  []models.ApprovalRequest
	snapshots []models.FolderSnapshot
	roles     map[string]models.MemberRole

	// failApprovalCommits makes request creation fail after the request row
	failApprovalCommits bool

	writes int
	seq    int
}

func newMemStore() *memStore {
	return &memStore{
		refs:  make(map[string][]models.SecretReference),
		roles: make(map[string]models.MemberRole),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%03d", prefix, m.seq)
}

// snapshot copies the mutable tables for rollback
func (m *memStore) snapshot() *memStore {
	c := &memStore{
		envs:      append([]models.Environment(nil), m.envs...),
		folders:   append([]models.Folder(nil), m.folders...),
		secrets:   append([]models.Secret(nil), m.secrets...),
		versions:  append([]models.SecretVersion(nil), m.versions...),
		tags:      append([]models.SecretTag(nil), m.tags...),
		secTags:   append([]models.TagLink(nil), m.secTags...),
		verTags:   append([]models.TagLink(nil), m.verTags...),
		refs:      make(map[string][]models.SecretReference, len(m.refs)),
		imports:   append([]models.SecretImport(nil), m.imports...),
		policies:  append([]models.ApprovalPolicy(nil), m.policies...),
		requests:  append([]models.ApprovalRequest(nil), m.requests...),
		snapshots: append([]models.FolderSnapshot(nil), m.snapshots...),
		roles:     m.roles,
		writes:    m.writes,
		seq:       m.seq,
	}
	for k, v := range m.refs {
		c.refs[k] = v
	}
	return c
}

func (m *memStore) restore(c *memStore) {
	m.envs, m.folders, m.secrets, m.versions = c.envs, c.folders, c.secrets, c.versions
	m.tags, m.secTags, m.verTags, m.refs = c.tags, c.secTags, c.verTags, c.refs
	m.imports, m.policies, m.requests, m.snapshots = c.imports, c.policies, c.requests, c.snapshots
	m.writes = c.writes
}

func (m *memStore) secretWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memStore) secretsIn(folderID string) []models.Secret {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Secret
	for _, s := range m.secrets {
		if s.FolderID == folderID {
			out = append(out, s)
		}
	}
	return out
}

// fakeTxManager runs fn and restores the store when the outermost call fails
type fakeTxManager struct {
	store *memStore
}

type fakeTxKey struct{}

func (f *fakeTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}

	f.store.mu.Lock()
	saved := f.store.snapshot()
	f.store.mu.Unlock()

	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		f.store.mu.Lock()
		f.store.restore(saved)
		f.store.mu.Unlock()
		return err
	}
	return nil
}

type fakeEnvRepo struct{ store *memStore }

func (r *fakeEnvRepo) GetBySlug(ctx context.Context, projectID, slug string) (*models.Environment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, env := range r.store.envs {
		if env.ProjectID == projectID && env.Slug == slug {
			e := env
			return &e, nil
		}
	}
	return nil, &domain.NotFoundError{Message: "environment not found"}
}

func (r *fakeEnvRepo) ListByIDs(ctx context.Context, ids []string) ([]models.Environment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Environment
	for _, env := range r.store.envs {
		if contains(ids, env.ID) {
			out = append(out, env)
		}
	}
	return out, nil
}

type fakeFolderRepo struct{ store *memStore }

func (r *fakeFolderRepo) ListByEnvIDs(ctx context.Context, envIDs []string) ([]models.Folder, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Folder
	for _, f := range r.store.folders {
		if contains(envIDs, f.EnvID) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFolderRepo) GetByIDs(ctx context.Context, ids []string) ([]models.Folder, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Folder
	for _, f := range r.store.folders {
		if contains(ids, f.ID) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFolderRepo) FindChild(ctx context.Context, parentID, name string) (*models.Folder, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, f := range r.store.folders {
		if f.ParentID != nil && *f.ParentID == parentID && f.Name == name {
			found := f
			return &found, nil
		}
	}
	return nil, nil
}

func (r *fakeFolderRepo) Create(ctx context.Context, folder *models.Folder) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, f := range r.store.folders {
		if f.EnvID == folder.EnvID && equalPtr(f.ParentID, folder.ParentID) && f.Name == folder.Name {
			return &domain.ConflictError{Message: "folder exists", ResourceType: "folder", ResourceID: f.ID}
		}
	}
	folder.ID = r.store.nextID("folder")
	folder.Version = 1
	r.store.folders = append(r.store.folders, *folder)
	return nil
}

type fakeSecretRepo struct{ store *memStore }

func (r *fakeSecretRepo) FindSharedByFolderIDs(ctx context.Context, folderIDs []string) ([]models.Secret, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Secret
	for _, s := range r.store.secrets {
		if s.Type == models.SecretTypeShared && contains(folderIDs, s.FolderID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSecretRepo) FindByFolderID(ctx context.Context, folderID, userID string) ([]models.Secret, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Secret
	for _, s := range r.store.secrets {
		if s.FolderID != folderID {
			continue
		}
		if s.Type == models.SecretTypeShared || (userID != "" && s.UserID != nil && *s.UserID == userID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSecretRepo) collides(folderID, blindIndex string, typ models.SecretType, userID *string) bool {
	for _, s := range r.store.secrets {
		if s.FolderID == folderID && s.BlindIndex != nil && *s.BlindIndex == blindIndex &&
			s.Type == typ && (typ == models.SecretTypeShared || equalPtr(s.UserID, userID)) {
			return true
		}
	}
	return false
}

func (r *fakeSecretRepo) InsertMany(ctx context.Context, folderID string, specs []models.SecretSpec) ([]models.Secret, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]models.Secret, 0, len(specs))
	for _, spec := range specs {
		if r.collides(folderID, spec.BlindIndex, spec.Type, spec.UserID) {
			return nil, &domain.ConflictError{Message: "secret exists", ResourceType: "secret"}
		}
		bi := spec.BlindIndex
		s := models.Secret{
			ID:                    r.store.nextID("secret"),
			FolderID:              folderID,
			BlindIndex:            &bi,
			Type:                  spec.Type,
			UserID:                spec.UserID,
			Version:               1,
			EncryptedFields:       spec.EncryptedFields,
			SkipMultilineEncoding: spec.SkipMultilineEncoding,
			ReminderRepeatDays:    spec.ReminderRepeatDays,
			ReminderNote:          spec.ReminderNote,
		}
		r.store.secrets = append(r.store.secrets, s)
		r.store.writes++
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeSecretRepo) UpdateOne(ctx context.Context, folderID string, filter models.SecretFilter, data models.SecretUpdateData) (*models.Secret, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i, s := range r.store.secrets {
		if s.FolderID != folderID || !matchesFilter(s, filter) {
			continue
		}
		if data.BlindIndex != nil {
			s.BlindIndex = data.BlindIndex
		}
		s.EncryptedFields = data.EncryptedFields
		s.SkipMultilineEncoding = data.SkipMultilineEncoding
		s.ReminderRepeatDays = data.ReminderRepeatDays
		s.ReminderNote = data.ReminderNote
		s.Version++
		r.store.secrets[i] = s
		r.store.writes++
		updated := s
		return &updated, nil
	}
	return nil, nil
}

func matchesFilter(s models.Secret, f models.SecretFilter) bool {
	if f.ID != "" {
		return s.ID == f.ID
	}
	if s.BlindIndex == nil || *s.BlindIndex != f.BlindIndex || s.Type != f.Type {
		return false
	}
	return f.Type != models.SecretTypePersonal || f.UserID == nil || equalPtr(s.UserID, f.UserID)
}

func (r *fakeSecretRepo) DeleteMany(ctx context.Context, folderID string, specs []models.SecretDeleteSpec, actorID string) ([]models.Secret, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var kept, deleted []models.Secret
	for _, s := range r.store.secrets {
		if s.FolderID == folderID && models.MatchesDelete(s, specs, actorID) {
			deleted = append(deleted, s)
			r.store.writes++
			continue
		}
		kept = append(kept, s)
	}
	r.store.secrets = kept
	return deleted, nil
}

func (r *fakeSecretRepo) ReplaceReferences(ctx context.Context, refs map[string][]models.SecretReference) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, list := range refs {
		r.store.refs[id] = list
	}
	return nil
}

type fakeVersionRepo struct{ store *memStore }

func (r *fakeVersionRepo) InsertMany(ctx context.Context, versions []models.SecretVersion) ([]models.SecretVersion, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]models.SecretVersion, len(versions))
	for i, v := range versions {
		v.ID = r.store.nextID("version")
		r.store.versions = append(r.store.versions, v)
		out[i] = v
	}
	return out, nil
}

func (r *fakeVersionRepo) FindByKeys(ctx context.Context, keys []models.SecretVersionKey) ([]models.SecretVersion, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.SecretVersion
	for _, v := range r.store.versions {
		for _, k := range keys {
			if v.SecretID == k.SecretID && v.Version == k.Version {
				out = append(out, v)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeVersionRepo) FindLatestReplicated(ctx context.Context, secretIDs []string) (map[string]int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make(map[string]int)
	for _, v := range r.store.versions {
		if v.IsReplicated && contains(secretIDs, v.SecretID) && v.Version > out[v.SecretID] {
			out[v.SecretID] = v.Version
		}
	}
	return out, nil
}

func (r *fakeVersionRepo) FindLatest(ctx context.Context, folderID string, secretIDs []string) (map[string]models.SecretVersion, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make(map[string]models.SecretVersion)
	for _, v := range r.store.versions {
		if v.FolderID != folderID || !contains(secretIDs, v.SecretID) {
			continue
		}
		if cur, ok := out[v.SecretID]; !ok || v.Version > cur.Version {
			out[v.SecretID] = v
		}
	}
	return out, nil
}

func (r *fakeVersionRepo) MarkReplicated(ctx context.Context, versionIDs []string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i, v := range r.store.versions {
		if contains(versionIDs, v.ID) {
			r.store.versions[i].IsReplicated = true
		}
	}
	return nil
}

type fakeTagRepo struct{ store *memStore }

func (r *fakeTagRepo) FindByIDs(ctx context.Context, ids []string) ([]models.SecretTag, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.SecretTag
	for _, t := range r.store.tags {
		if contains(ids, t.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTagRepo) LinkSecrets(ctx context.Context, links []models.TagLink) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.secTags = append(r.store.secTags, links...)
	return nil
}

func (r *fakeTagRepo) LinkVersions(ctx context.Context, links []models.TagLink) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.verTags = append(r.store.verTags, links...)
	return nil
}

func (r *fakeTagRepo) UnlinkSecrets(ctx context.Context, secretIDs []string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var kept []models.TagLink
	for _, l := range r.store.secTags {
		if !contains(secretIDs, l.OwnerID) {
			kept = append(kept, l)
		}
	}
	r.store.secTags = kept
	return nil
}

type fakeImportRepo struct{ store *memStore }

func (r *fakeImportRepo) FindByFolderIDs(ctx context.Context, folderIDs []string, includeReplication bool) ([]models.SecretImport, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.SecretImport
	for _, folderID := range folderIDs {
		var own []models.SecretImport
		for _, imp := range r.store.imports {
			if imp.FolderID == folderID && (includeReplication || !imp.IsReplication) {
				own = append(own, imp)
			}
		}
		sort.SliceStable(own, func(i, j int) bool { return own[i].Position < own[j].Position })
		out = append(out, own...)
	}
	return out, nil
}

func (r *fakeImportRepo) FindByTarget(ctx context.Context, importEnvID, importPath string, replication bool) ([]models.SecretImport, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.SecretImport
	for _, imp := range r.store.imports {
		if imp.ImportEnvID == importEnvID && imp.ImportPath == importPath && imp.IsReplication == replication {
			out = append(out, imp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeImportRepo) UpdateReplicationStatus(ctx context.Context, id string, update models.ReplicationStatusUpdate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i, imp := range r.store.imports {
		if imp.ID == id {
			at := update.LastReplicated
			success := update.Success
			r.store.imports[i].LastReplicated = &at
			r.store.imports[i].ReplicationStatus = update.Status
			r.store.imports[i].IsReplicationSuccess = &success
			return nil
		}
	}
	return &domain.NotFoundError{Message: "import not found"}
}

type fakePolicyRepo struct{ store *memStore }

func (r *fakePolicyRepo) ListByEnv(ctx context.Context, projectID, envID string) ([]models.ApprovalPolicy, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.ApprovalPolicy
	for _, p := range r.store.policies {
		if p.ProjectID == projectID && p.EnvID == envID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeRequestRepo struct{ store *memStore }

func (r *fakeRequestRepo) Create(ctx context.Context, req *models.ApprovalRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	req.ID = r.store.nextID("request")
	r.store.requests = append(r.store.requests, *req)
	if r.store.failApprovalCommits {
		return fmt.Errorf("insert approval commit: connection reset")
	}
	for i := range req.Commits {
		req.Commits[i].ID = r.store.nextID("commit")
		req.Commits[i].RequestID = req.ID
	}
	r.store.requests[len(r.store.requests)-1] = *req
	return nil
}

type fakeSnapshotRepo struct{ store *memStore }

func (r *fakeSnapshotRepo) Create(ctx context.Context, snapshot *models.FolderSnapshot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	snapshot.ID = r.store.nextID("snapshot")
	r.store.snapshots = append(r.store.snapshots, *snapshot)
	return nil
}

type fakeMembershipRepo struct{ store *memStore }

func (r *fakeMembershipRepo) GetRole(ctx context.Context, projectID, actorID string) (models.MemberRole, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	role, ok := r.store.roles[projectID+":"+actorID]
	if !ok {
		return "", &domain.NotFoundError{Message: "membership not found"}
	}
	return role, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
