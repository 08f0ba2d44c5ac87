package repo

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// mergeOutcome is the low-level result of a three-way merge attempt.
type mergeOutcome struct {
	conflicted  bool
	fastForward bool
	commit      plumbing.Hash
}

// threeWayMerge merges target into head. go-git has no native
// three-way tree merge, so conflicts are detected by diffing each
// side against the merge base and rejecting any path both sides
// touched; non-overlapping changes are applied onto head's tree and
// committed with two parents.
func threeWayMerge(r *git.Repository, head, target *object.Commit, identity Identity, reporter ProgressReporter) (*mergeOutcome, error) {
	bases, err := head.MergeBase(target)
	if err != nil {
		return nil, fmt.Errorf("compute merge base: %w", err)
	}
	if len(bases) == 0 {
		return nil, fmt.Errorf("no common ancestor between %s and %s", head.Hash, target.Hash)
	}
	base := bases[0]

	if base.Hash == target.Hash {
		// target is already an ancestor of head: nothing to do.
		reporter.Report(100)
		return &mergeOutcome{fastForward: true, commit: head.Hash}, nil
	}

	baseTree, err := base.Tree()
	if err != nil {
		return nil, err
	}
	headTree, err := head.Tree()
	if err != nil {
		return nil, err
	}
	targetTree, err := target.Tree()
	if err != nil {
		return nil, err
	}

	headChanges, err := object.DiffTree(baseTree, headTree)
	if err != nil {
		return nil, err
	}
	targetChanges, err := object.DiffTree(baseTree, targetTree)
	if err != nil {
		return nil, err
	}

	headPaths := changedPaths(headChanges)
	for path := range changedPaths(targetChanges) {
		if headPaths[path] {
			return &mergeOutcome{conflicted: true}, nil
		}
	}
	reporter.Report(70)

	if base.Hash == head.Hash {
		// fast-forward is possible, but "fast-forward disallowed"
		// (spec §4.3 step 3): take target's tree as-is but still
		// author a merge commit with two parents.
		commit, err := commitMerge(r, targetTree.Hash, []plumbing.Hash{head.Hash, target.Hash}, identity)
		if err != nil {
			return nil, err
		}
		reporter.Report(100)
		return &mergeOutcome{fastForward: true, commit: commit}, nil
	}

	mergedTreeHash, err := applyNonOverlapping(r, headTree, targetChanges)
	if err != nil {
		return nil, err
	}
	reporter.Report(90)

	commit, err := commitMerge(r, mergedTreeHash, []plumbing.Hash{head.Hash, target.Hash}, identity)
	if err != nil {
		return nil, err
	}
	reporter.Report(100)
	return &mergeOutcome{fastForward: false, commit: commit}, nil
}

func changedPaths(changes object.Changes) map[string]bool {
	paths := make(map[string]bool, len(changes))
	for _, c := range changes {
		if c.From.Name != "" {
			paths[c.From.Name] = true
		}
		if c.To.Name != "" {
			paths[c.To.Name] = true
		}
	}
	return paths
}

// applyNonOverlapping rewrites head's tree entries for every path
// target changed relative to base, producing the merged tree object.
func applyNonOverlapping(r *git.Repository, headTree *object.Tree, targetChanges object.Changes) (plumbing.Hash, error) {
	entries := make(map[string]object.TreeEntry)
	for _, e := range headTree.Entries {
		entries[e.Name] = e
	}

	for _, c := range targetChanges {
		if c.To.Name == "" {
			// deletion on target's side
			delete(entries, c.From.Name)
			continue
		}
		entries[c.To.Name] = c.To.TreeEntry
	}

	flat := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		flat = append(flat, e)
	}

	tree := &object.Tree{Entries: flat}
	obj := r.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	hash, err := r.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return hash, nil
}

func commitMerge(r *git.Repository, treeHash plumbing.Hash, parents []plumbing.Hash, identity Identity) (plumbing.Hash, error) {
	sig := object.Signature{Name: identity.Name, Email: identity.Email}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      "merge test revision",
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	obj := r.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return r.Storer.SetEncodedObject(obj)
}

// cancellableProgress is the io.Writer go-git's transport progress sink
// expects, polling ctx at each write (spec §4.3 "poll the cancellation
// handle at every network callback boundary"). The progress text is
// discarded; Write does not call reporter.
type cancellableProgress struct {
	ctx      interface{ Done() <-chan struct{} }
	reporter ProgressReporter
}

func (p *cancellableProgress) Write(b []byte) (int, error) {
	select {
	case <-p.ctx.Done():
		return 0, fmt.Errorf("cancelled")
	default:
	}
	return len(b), nil
}

var _ io.Writer = (*cancellableProgress)(nil)

// halfReporter rescales progress into a sub-range, e.g. [0,50] or [50,100].
type halfReporter struct {
	inner ProgressReporter
	base  int32
	max   int32
}

func (h halfReporter) Report(value int32) {
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	scaled := h.base + (value*(h.max-h.base))/100
	h.inner.Report(scaled)
}
