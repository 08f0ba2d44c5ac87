package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initRepoWithCommit(t *testing.T, dir string, files map[string]string) (*git.Repository, plumbing.Hash) {
	t.Helper()
	r, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatal(err)
		}
	}
	sig := object.Signature{Name: "tester", Email: "tester@example.com"}
	hash, err := wt.Commit("initial", &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		t.Fatal(err)
	}
	return r, hash
}

func TestIsSHAOnPlainCommit(t *testing.T) {
	dir := t.TempDir()
	_, hash := initRepoWithCommit(t, dir, map[string]string{"a.txt": "hello"})

	e, err := Open(dir, 1, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	isSHA, err := e.IsSHA(hash.String())
	if err != nil {
		t.Fatalf("IsSHA() error = %v", err)
	}
	if !isSHA {
		t.Fatal("IsSHA() = false for a raw commit hash, want true")
	}
}

func TestIsSHAOnBranchName(t *testing.T) {
	dir := t.TempDir()
	initRepoWithCommit(t, dir, map[string]string{"a.txt": "hello"})

	e, err := Open(dir, 1, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	isSHA, err := e.IsSHA("master")
	if err != nil {
		t.Fatalf("IsSHA() error = %v", err)
	}
	if isSHA {
		t.Fatal("IsSHA() = true for a branch name, want false")
	}
}

func TestResetToSHA(t *testing.T) {
	dir := t.TempDir()
	r, firstHash := initRepoWithCommit(t, dir, map[string]string{"a.txt": "v1"})

	wt, _ := r.Worktree()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("a.txt"); err != nil {
		t.Fatal(err)
	}
	sig := object.Signature{Name: "tester", Email: "tester@example.com"}
	if _, err := wt.Commit("second", &git.CommitOptions{Author: &sig, Committer: &sig}); err != nil {
		t.Fatal(err)
	}

	e, err := Open(dir, 1, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := e.ResetToSHA(context.Background(), firstHash.String()); err != nil {
		t.Fatalf("ResetToSHA() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Fatalf("a.txt = %q after reset, want v1", data)
	}
}

func TestMergeTestRevisionNonConflicting(t *testing.T) {
	dir := t.TempDir()
	r, baseHash := initRepoWithCommit(t, dir, map[string]string{"a.txt": "base"})
	wt, _ := r.Worktree()
	sig := object.Signature{Name: "tester", Email: "tester@example.com"}

	// head adds b.txt
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("head change"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("b.txt"); err != nil {
		t.Fatal(err)
	}
	headHash, err := wt.Commit("head change", &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		t.Fatal(err)
	}

	// branch off base, add c.txt, to emulate a PR head fetched as pr-N
	if err := wt.Checkout(&git.CheckoutOptions{Hash: baseHash}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "c.txt"), []byte("pr change"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("c.txt"); err != nil {
		t.Fatal(err)
	}
	prHash, err := wt.Commit("pr change", &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("pr-1"), prHash)); err != nil {
		t.Fatal(err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: headHash}); err != nil {
		t.Fatal(err)
	}

	headCommit, err := r.CommitObject(headHash)
	if err != nil {
		t.Fatal(err)
	}
	prCommit, err := r.CommitObject(prHash)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := threeWayMerge(r, headCommit, prCommit, Identity{Name: "merger", Email: "merger@example.com"}, noopReporter{})
	if err != nil {
		t.Fatalf("threeWayMerge() error = %v", err)
	}
	if outcome.conflicted {
		t.Fatal("threeWayMerge() reported a conflict for disjoint changes")
	}

	mergedCommit, err := r.CommitObject(outcome.commit)
	if err != nil {
		t.Fatal(err)
	}
	if len(mergedCommit.ParentHashes) != 2 {
		t.Fatalf("merge commit has %d parents, want 2", len(mergedCommit.ParentHashes))
	}
}

func TestMergeTestRevisionConflicting(t *testing.T) {
	dir := t.TempDir()
	r, baseHash := initRepoWithCommit(t, dir, map[string]string{"a.txt": "base"})
	wt, _ := r.Worktree()
	sig := object.Signature{Name: "tester", Email: "tester@example.com"}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("head edit"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("a.txt"); err != nil {
		t.Fatal(err)
	}
	headHash, err := wt.Commit("head edit", &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		t.Fatal(err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Hash: baseHash}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("pr edit"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("a.txt"); err != nil {
		t.Fatal(err)
	}
	prHash, err := wt.Commit("pr edit", &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		t.Fatal(err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: headHash}); err != nil {
		t.Fatal(err)
	}

	headCommit, err := r.CommitObject(headHash)
	if err != nil {
		t.Fatal(err)
	}
	prCommit, err := r.CommitObject(prHash)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := threeWayMerge(r, headCommit, prCommit, Identity{Name: "merger", Email: "merger@example.com"}, noopReporter{})
	if err != nil {
		t.Fatalf("threeWayMerge() error = %v", err)
	}
	if !outcome.conflicted {
		t.Fatal("threeWayMerge() did not report a conflict for overlapping edits")
	}
}
