package vault

import (
	models "keyhaven/internal/domain/models/vault"
)

// folderTree is an in-memory index over the folders of one or more
// environments. Paths are derived by walking parent links; walks stop at
// maxDepth and on revisited folders.
type folderTree struct {
	byID     map[string]*models.Folder
	children map[string][]*models.Folder
	roots    map[string]*models.Folder
	maxDepth int
}

func newFolderTree(folders []models.Folder, maxDepth int) *folderTree {
	t := &folderTree{
		byID:     make(map[string]*models.Folder, len(folders)),
		children: make(map[string][]*models.Folder),
		roots:    make(map[string]*models.Folder),
		maxDepth: maxDepth,
	}

	for i := range folders {
		f := &folders[i]
		t.byID[f.ID] = f
	}
	for _, f := range t.byID {
		if f.IsRoot() {
			t.roots[f.EnvID] = f
			continue
		}
		t.children[*f.ParentID] = append(t.children[*f.ParentID], f)
	}
	return t
}

func (t *folderTree) child(parentID, name string) *models.Folder {
	for _, c := range t.children[parentID] {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// find walks from the environment root one segment per level and returns
// the folder only when its reconstructed path equals the requested one.
func (t *folderTree) find(envID string, segments []string) *models.Folder {
	node, ok := t.roots[envID]
	if !ok {
		return nil
	}
	if len(segments) > t.maxDepth {
		return nil
	}

	for _, seg := range segments {
		node = t.child(node.ID, seg)
		if node == nil {
			return nil
		}
	}

	path, ok := t.pathOf(node.ID)
	if !ok || path != joinSecretPath(segments) {
		return nil
	}
	return node
}

// pathOf reconstructs the absolute path of a folder. ok is false when the
// folder is unknown, its ancestry is broken or cyclic, or deeper than maxDepth.
func (t *folderTree) pathOf(id string) (string, bool) {
	node, ok := t.byID[id]
	if !ok {
		return "", false
	}

	var reversed []string
	visited := make(map[string]struct{})
	for !node.IsRoot() {
		if _, seen := visited[node.ID]; seen {
			return "", false
		}
		visited[node.ID] = struct{}{}
		if len(reversed) >= t.maxDepth {
			return "", false
		}

		reversed = append(reversed, node.Name)
		parent, ok := t.byID[*node.ParentID]
		if !ok || parent.EnvID != node.EnvID {
			return "", false
		}
		node = parent
	}

	segments := make([]string, len(reversed))
	for i, name := range reversed {
		segments[len(reversed)-1-i] = name
	}
	return joinSecretPath(segments), true
}
