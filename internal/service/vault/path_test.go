package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
)

func TestSplitSecretPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    []string
		wantErr bool
	}{
		{name: "root", path: "/", want: nil},
		{name: "empty is root", path: "", want: nil},
		{name: "nested", path: "/a/b", want: []string{"a", "b"}},
		{name: "trailing slash", path: "/a/b/", want: []string{"a", "b"}},
		{name: "missing leading slash", path: "a/b", want: []string{"a", "b"}},
		{name: "surrounding spaces", path: "  /a  ", want: []string{"a"}},
		{name: "empty segment", path: "/a//b", wantErr: true},
		{name: "dot segment", path: "/a/../b", wantErr: true},
		{name: "bad characters", path: "/a b", wantErr: true},
		{name: "too long", path: "/" + strings.Repeat("a", 1100), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitSecretPath(tt.path)
			if tt.wantErr {
				var verr *domain.ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeSecretPath(t *testing.T) {
	got, err := NormalizeSecretPath("a/b/")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", got)

	got, err = NormalizeSecretPath("")
	require.NoError(t, err)
	assert.Equal(t, "/", got)
}

func TestFolderPathRoundTrip(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	deep := h.mkdir(dev, "/app/api/v1")
	h.mkdir(dev, "/app/web")

	for _, p := range []string{"/", "/app", "/app/api", "/app/api/v1", "/app/web"} {
		folder, err := h.folders.ResolveFolder(h.ctx, testProject, "dev", p)
		require.NoError(t, err, p)

		paths, err := h.folders.FindSecretPathByFolderIDs(h.ctx, testProject, []string{folder.ID})
		require.NoError(t, err)
		require.Len(t, paths, 1)
		require.NotNil(t, paths[0])
		assert.Equal(t, p, paths[0].Path)
		assert.Equal(t, "dev", paths[0].EnvironmentSlug)
	}

	folder, err := h.folders.FindBySecretPath(h.ctx, testProject, "dev", "app/api/v1/")
	require.NoError(t, err)
	require.NotNil(t, folder)
	assert.Equal(t, deep.ID, folder.ID)
}

func TestFindBySecretPathMissing(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	h.mkdir(dev, "/app")

	folder, err := h.folders.FindBySecretPath(h.ctx, testProject, "dev", "/app/missing")
	require.NoError(t, err)
	assert.Nil(t, folder)

	folder, err = h.folders.FindBySecretPath(h.ctx, testProject, "nope", "/app")
	require.NoError(t, err)
	assert.Nil(t, folder)

	_, err = h.folders.ResolveFolder(h.ctx, testProject, "dev", "/app/missing")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestFindByManySecretPathIsIndexAligned(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	prod := h.addEnv("prod")
	a := h.mkdir(dev, "/a")
	b := h.mkdir(prod, "/b")

	got, err := h.folders.FindByManySecretPath(h.ctx, []models.EnvPath{
		{EnvID: prod.ID, Path: "/b"},
		{EnvID: dev.ID, Path: "/missing"},
		{EnvID: dev.ID, Path: "/a"},
		{EnvID: prod.ID, Path: "/a"},
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.NotNil(t, got[0])
	assert.Equal(t, b.ID, got[0].ID)
	assert.Nil(t, got[1])
	require.NotNil(t, got[2])
	assert.Equal(t, a.ID, got[2].ID)
	assert.Nil(t, got[3])
}

func TestFindSecretPathByFolderIDsUnknownAndForeign(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	a := h.mkdir(dev, "/a")

	h.store.mu.Lock()
	h.store.envs = append(h.store.envs, models.Environment{ID: "env-other", ProjectID: "project-2", Slug: "other"})
	h.store.folders = append(h.store.folders, models.Folder{ID: "root-other", EnvID: "env-other", Name: models.RootFolderName})
	h.store.mu.Unlock()

	got, err := h.folders.FindSecretPathByFolderIDs(h.ctx, testProject, []string{"ghost", a.ID, "root-other"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Nil(t, got[0])
	require.NotNil(t, got[1])
	assert.Equal(t, "/a", got[1].Path)
	assert.Nil(t, got[2])
}

func TestFolderTreeFindRequiresExactPath(t *testing.T) {
	root := "root"
	a := "a"
	folders := []models.Folder{
		{ID: root, EnvID: "e", Name: models.RootFolderName},
		{ID: a, EnvID: "e", ParentID: &root, Name: "a"},
		{ID: "b", EnvID: "e", ParentID: &a, Name: "b"},
	}
	tree := newFolderTree(folders, 20)

	require.NotNil(t, tree.find("e", []string{"a", "b"}))
	assert.Nil(t, tree.find("e", []string{"b"}))
	assert.Nil(t, tree.find("e", []string{"a", "b", "c"}))
	assert.Nil(t, tree.find("other", nil))
}

func TestFolderTreeDepthGuard(t *testing.T) {
	root := "root"
	folders := []models.Folder{{ID: root, EnvID: "e", Name: models.RootFolderName}}
	parent := root
	var segments []string
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		p := parent
		folders = append(folders, models.Folder{ID: id, EnvID: "e", ParentID: &p, Name: id})
		segments = append(segments, id)
		parent = id
	}

	tree := newFolderTree(folders, 3)
	assert.Nil(t, tree.find("e", segments))
	_, ok := tree.pathOf("e")
	assert.False(t, ok)

	path, ok := tree.pathOf("c")
	require.True(t, ok)
	assert.Equal(t, "/a/b/c", path)
}

func TestFolderTreeCyclicAncestry(t *testing.T) {
	x, y := "x", "y"
	folders := []models.Folder{
		{ID: "root", EnvID: "e", Name: models.RootFolderName},
		{ID: x, EnvID: "e", ParentID: &y, Name: "x"},
		{ID: y, EnvID: "e", ParentID: &x, Name: "y"},
	}
	tree := newFolderTree(folders, 20)

	_, ok := tree.pathOf(x)
	assert.False(t, ok)
}

func TestFindOrCreateReservedFolder(t *testing.T) {
	h := newHarness(t)
	dev := h.addEnv("dev")
	parent := h.mkdir(dev, "/app")
	name := models.ReplicationFolderName("import-9")

	created, err := h.folders.FindOrCreateReservedFolder(h.ctx, &parent, name)
	require.NoError(t, err)
	assert.True(t, created.IsReserved)
	assert.Equal(t, parent.ID, *created.ParentID)

	again, err := h.folders.FindOrCreateReservedFolder(h.ctx, &parent, name)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	resolved, err := h.folders.ResolveFolder(h.ctx, testProject, "dev", "/app/"+name)
	require.NoError(t, err)
	assert.Equal(t, created.ID, resolved.ID)
}
