package search

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mailprobe/mailprobe/internal/protocol"
	"github.com/mailprobe/mailprobe/pkg/types"
)

// ResolveStats records what happened during folder discovery.
type ResolveStats struct {
	FoldersVisited  int
	TraversalErrors int
}

// ResolveFolders walks the folder tree breadth-first from the node
// matching rootPath and returns the flat, ordered list of searchable
// folders. The result is always a slice, even when the search covers a
// single folder.
//
// With excludeMode false, a folder whose path is in the exclude set is
// dropped together with its whole subtree. With excludeMode true the
// set becomes an allow-list: only folders named in the set, or sitting
// under one that is, are kept — traversal still descends everywhere so
// naming a folder allows everything beneath it.
//
// An unresolvable root yields an empty slice plus a structured
// root-folder-not-found error. A failure listing one folder's children
// is logged, counted, and traversal continues with its siblings.
func ResolveFolders(ctx context.Context, mbox protocol.Mailbox, rootPath string, exclude []string, excludeMode bool, logger *logrus.Logger) ([]types.Folder, ResolveStats, error) {
	var stats ResolveStats

	excluded := make(map[string]struct{}, len(exclude))
	for _, path := range exclude {
		excluded[strings.ToLower(strings.Trim(path, "/"))] = struct{}{}
	}

	root, err := findRoot(ctx, mbox, rootPath)
	if err != nil {
		return nil, stats, err
	}

	type node struct {
		folder  types.Folder
		allowed bool
	}

	inSet := func(path string) bool {
		_, ok := excluded[strings.ToLower(path)]
		return ok
	}

	var resolved []types.Folder
	queue := []node{{folder: *root, allowed: inSet(root.Path)}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return resolved, stats, err
		}

		current := queue[0]
		queue = queue[1:]
		stats.FoldersVisited++

		if excludeMode {
			if current.allowed {
				resolved = append(resolved, current.folder)
			}
		} else {
			if inSet(current.folder.Path) {
				// Dropping the node drops its subtree with it.
				continue
			}
			resolved = append(resolved, current.folder)
		}

		children, err := mbox.Children(ctx, current.folder)
		if err != nil {
			stats.TraversalErrors++
			logger.WithError(err).WithField("folder", current.folder.Path).Warn("Failed to list subfolders, continuing with siblings")
			continue
		}
		for _, child := range children {
			queue = append(queue, node{
				folder:  child,
				allowed: current.allowed || inSet(child.Path),
			})
		}
	}

	return resolved, stats, nil
}

// findRoot locates the folder matching rootPath segment by segment,
// case-insensitively.
func findRoot(ctx context.Context, mbox protocol.Mailbox, rootPath string) (*types.Folder, error) {
	parts := splitPath(rootPath)
	if len(parts) == 0 {
		return nil, protocol.NewError(protocol.KindRootFolderNotFound, "empty root folder path", nil)
	}

	candidates, err := mbox.RootFolders(ctx)
	if err != nil {
		return nil, err
	}

	var current *types.Folder
	for i, part := range parts {
		match := matchFolder(candidates, part)
		if match == nil {
			return nil, protocol.NewError(protocol.KindRootFolderNotFound,
				"no folder matches "+rootPath, nil)
		}
		current = match
		if i < len(parts)-1 {
			candidates, err = mbox.Children(ctx, *current)
			if err != nil {
				return nil, protocol.NewError(protocol.KindRootFolderNotFound,
					"failed to descend into "+current.Path, err)
			}
		}
	}
	return current, nil
}

func matchFolder(folders []types.Folder, name string) *types.Folder {
	for i := range folders {
		if strings.EqualFold(folders[i].Name, name) {
			return &folders[i]
		}
	}
	return nil
}

func splitPath(path string) []string {
	var parts []string
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
