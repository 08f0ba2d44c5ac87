// Package repo wraps github.com/go-git/go-git/v5 as the
// RepositoryEngine backend (spec §4.3): clone, fetch, checkout,
// reset, a conflict-detecting merge-test, and a push-back
// synchronisation, each polling a cancellation handle at network
// callback boundaries and reporting coarse progress.
package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/internal/domain"
)

// Identity is the committer/author identity used for merge and sync commits.
type Identity struct {
	Name  string
	Email string
}

// PreSynchronizeHook is called before a push-back; returning false vetoes the push.
type PreSynchronizeHook func(ctx context.Context, headSHA string) bool

// EventSink receives classified repository events for chat routing
// (spec §4.3's RepoFetch/RepoMergeConflict/RepoMergePullRequest/RepoPreSynchronize).
type EventSink interface {
	Emit(domain.Event)
}

// Engine owns one on-disk repository. At most one mutating operation
// runs at a time; readers serialise on the same lock (spec §4.3
// "Concurrency").
type Engine struct {
	path       string
	instanceID int64
	sink       EventSink
	mu         sync.Mutex
}

// Open returns an Engine for the repository checkout at path. It does not
// check that a repository exists there and never returns an error; each
// operation other than Clone fails when it cannot open one (use Clone to
// create one).
func Open(path string, instanceID int64, sink EventSink) (*Engine, error) {
	return &Engine{path: path, instanceID: instanceID, sink: sink}, nil
}

func (e *Engine) emit(kind domain.WatchdogEventKind, channel domain.ChatChannelKind, msg string) {
	e.emitDetails(kind, channel, msg, nil)
}

func (e *Engine) emitDetails(kind domain.WatchdogEventKind, channel domain.ChatChannelKind, msg string, details map[string]string) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(domain.Event{
		InstanceID: e.instanceID,
		Kind:       kind,
		Channel:    channel,
		Message:    msg,
		Details:    details,
		At:         time.Now(),
	})
}

// Auth describes how to authenticate outbound git network operations.
type Auth struct {
	Method transport.AuthMethod
}

// Clone clones originURL into the engine's path.
func (e *Engine) Clone(ctx context.Context, originURL string, auth Auth, reporter ProgressReporter) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reporter == nil {
		reporter = noopReporter{}
	}

	progress := &cancellableProgress{ctx: ctx, reporter: reporter}
	_, err := git.PlainCloneContext(ctx, e.path, false, &git.CloneOptions{
		URL:      originURL,
		Auth:     auth.Method,
		Progress: progress,
	})
	if err != nil {
		return apierrors.Wrap(apierrors.KindTransient, apierrors.ErrCodeNone, "clone repository", err)
	}
	reporter.Report(100)
	return nil
}

// FetchOrigin fetches all refs from origin, progress 0->100.
func (e *Engine) FetchOrigin(ctx context.Context, auth Auth, reporter ProgressReporter) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetchLocked(ctx, nil, auth, reporter)
}

func (e *Engine) fetchLocked(ctx context.Context, refSpecs []config.RefSpec, auth Auth, reporter ProgressReporter) error {
	if reporter == nil {
		reporter = noopReporter{}
	}
	r, err := git.PlainOpen(e.path)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open repository", err)
	}

	opts := &git.FetchOptions{
		Auth:     auth.Method,
		Progress: &cancellableProgress{ctx: ctx, reporter: reporter},
		Force:    true,
	}
	if len(refSpecs) > 0 {
		opts.RefSpecs = refSpecs
	}

	if err := r.FetchContext(ctx, opts); err != nil && err != git.NoErrAlreadyUpToDate {
		return apierrors.Wrap(apierrors.KindTransient, apierrors.ErrCodeNone, "fetch origin", err)
	}
	reporter.Report(100)
	e.emit(domain.EventRepoFetch, domain.ChatChannelDev, "fetched origin")
	return nil
}

// Checkout checks out the given committish (branch name, tag, or SHA).
func (e *Engine) Checkout(ctx context.Context, committish string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := git.PlainOpen(e.path)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open repository", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open worktree", err)
	}
	hash, err := resolveCommittish(r, committish)
	if err != nil {
		return apierrors.Wrap(apierrors.KindValidation, apierrors.ErrCodeNone, "resolve "+committish, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "checkout "+committish, err)
	}
	return nil
}

// ResetToSHA hard-resets the working tree to sha.
func (e *Engine) ResetToSHA(ctx context.Context, sha string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetHardLocked(plumbing.NewHash(sha))
}

// ResetToOrigin hard-resets to the tip of the tracking branch's remote counterpart.
func (e *Engine) ResetToOrigin(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := git.PlainOpen(e.path)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open repository", err)
	}
	head, err := r.Head()
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "resolve HEAD", err)
	}
	remoteRef := plumbing.NewRemoteReferenceName("origin", head.Name().Short())
	ref, err := r.Reference(remoteRef, true)
	if err != nil {
		return apierrors.Wrap(apierrors.KindValidation, apierrors.ErrCodeNone, "resolve origin tracking ref", err)
	}
	return e.resetHardLocked(ref.Hash())
}

func (e *Engine) resetHardLocked(hash plumbing.Hash) error {
	r, err := git.PlainOpen(e.path)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open repository", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open worktree", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "clean untracked files", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "reset hard", err)
	}
	return nil
}

// IsSHA reports whether committish resolves only to a raw commit hash
// (not a tag, not a branch) — spec §4.3 "is-sha".
func (e *Engine) IsSHA(committish string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !plumbing.IsHash(committish) {
		return false, nil
	}
	r, err := git.PlainOpen(e.path)
	if err != nil {
		return false, apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open repository", err)
	}
	if _, err := r.Tag(committish); err == nil {
		return false, nil
	}
	if _, err := r.Branch(committish); err == nil {
		return false, nil
	}
	if _, err := r.CommitObject(plumbing.NewHash(committish)); err != nil {
		return false, nil
	}
	return true, nil
}

func resolveCommittish(r *git.Repository, committish string) (*plumbing.Hash, error) {
	if plumbing.IsHash(committish) {
		h := plumbing.NewHash(committish)
		return &h, nil
	}
	ref, err := r.Reference(plumbing.NewBranchReferenceName(committish), true)
	if err == nil {
		h := ref.Hash()
		return &h, nil
	}
	hash, err := r.ResolveRevision(plumbing.Revision(committish))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", committish, err)
	}
	return hash, nil
}

// MergeTestResult is the outcome of MergeTestRevision.
type MergeTestResult struct {
	Conflicted      bool
	FastForward     bool
	ResultSHA       string
}

// MergeTestRevision implements the spec §4.3 merge-test-revision
// algorithm: fetch a pull-request head, merge it into current HEAD
// without disturbing the tracked branch on conflict, always cleaning
// up the temporary fetch branch.
func (e *Engine) MergeTestRevision(ctx context.Context, testMergeNumber int, explicitSHA string, auth Auth, identity Identity, reporter ProgressReporter) (*MergeTestResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reporter == nil {
		reporter = noopReporter{}
	}

	r, err := git.PlainOpen(e.path)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open repository", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open worktree", err)
	}

	// Step 1: record current head.
	headRef, err := r.Head()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "resolve HEAD", err)
	}
	recordedHead := headRef.Hash()

	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "clean untracked files", err)
	}

	tempBranch := fmt.Sprintf("pr-%d", testMergeNumber)
	defer func() {
		r.Storer.RemoveReference(plumbing.NewBranchReferenceName(tempBranch))
		wt.Clean(&git.CleanOptions{Dir: true})
	}()

	if err := pollCancellation(ctx); err != nil {
		return nil, err
	}

	// Step 2: fetch pull/<N>/head:pr-<N>, progress 0->50.
	refSpec := config.RefSpec(fmt.Sprintf("refs/pull/%d/head:refs/heads/%s", testMergeNumber, tempBranch))
	if err := e.fetchLocked(ctx, []config.RefSpec{refSpec}, auth, halfReporter{inner: reporter, max: 50}); err != nil {
		return nil, err
	}

	// Step 3: resolve target revision.
	var targetHash plumbing.Hash
	if explicitSHA != "" {
		targetHash = plumbing.NewHash(explicitSHA)
	} else {
		ref, err := r.Reference(plumbing.NewBranchReferenceName(tempBranch), true)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindValidation, apierrors.ErrCodeNone, "resolve fetched pull request head", err)
		}
		targetHash = ref.Hash()
	}

	if err := pollCancellation(ctx); err != nil {
		return nil, err
	}

	headCommit, err := r.CommitObject(recordedHead)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "load head commit", err)
	}
	targetCommit, err := r.CommitObject(targetHash)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindValidation, apierrors.ErrCodeNone, "load target commit", err)
	}

	mergeResult, err := threeWayMerge(r, headCommit, targetCommit, identity, halfReporter{inner: reporter, max: 100, base: 50})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "merge test revision", err)
	}

	if mergeResult.conflicted {
		// Step 4: reset hard to recorded head, emit conflict event.
		if resetErr := e.resetHardLocked(recordedHead); resetErr != nil {
			return nil, resetErr
		}
		e.emitDetails(domain.EventRepoMergeConflict, domain.ChatChannelDev, fmt.Sprintf("test merge #%d conflicted", testMergeNumber), map[string]string{
			"old-sha":   recordedHead.String(),
			"new-sha":   targetHash.String(),
			"old-ref":   headRef.Name().Short(),
			"pr-branch": tempBranch,
		})
		return &MergeTestResult{Conflicted: true}, nil
	}

	// Step 5: commit produced above; checkout the new commit onto HEAD.
	if err := wt.Checkout(&git.CheckoutOptions{Hash: mergeResult.commit, Force: true}); err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "checkout merge result", err)
	}
	e.emit(domain.EventRepoMergePullRequest, domain.ChatChannelDev, fmt.Sprintf("merged test merge #%d", testMergeNumber))

	return &MergeTestResult{
		Conflicted:  false,
		FastForward: mergeResult.fastForward,
		ResultSHA:   mergeResult.commit.String(),
	}, nil
}

// SynchronizeBack pushes the current HEAD back to origin's tracked
// branch (spec §4.3 "Synchronise"). Returns false without error for
// any condition the spec says must not raise to the caller
// (no-credentials, non-fast-forward, library error).
func (e *Engine) SynchronizeBack(ctx context.Context, auth Auth, haveCredentials bool, identity Identity, preHook PreSynchronizeHook) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !haveCredentials {
		return false
	}

	r, err := git.PlainOpen(e.path)
	if err != nil {
		return false
	}
	wt, err := r.Worktree()
	if err != nil {
		return false
	}
	if err := setCommitterIdentity(r, identity); err != nil {
		return false
	}

	headRef, err := r.Head()
	if err != nil {
		return false
	}
	recordedHead := headRef.Hash()

	if preHook != nil && !preHook(ctx, recordedHead.String()) {
		wt.Reset(&git.ResetOptions{Commit: recordedHead, Mode: git.HardReset})
		return false
	}
	e.emit(domain.EventRepoPreSynchronize, domain.ChatChannelDev, "synchronizing back to origin")

	err = r.PushContext(ctx, &git.PushOptions{Auth: auth.Method})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return false
	}
	return true
}

// SynchronizeBackTemporaryBranch pushes HEAD to a disposable remote
// branch and deletes it immediately, forcing origin to observe the
// exact working-tree state without touching the tracked branch.
func (e *Engine) SynchronizeBackTemporaryBranch(ctx context.Context, auth Auth, branchName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := git.PlainOpen(e.path)
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "open repository", err)
	}
	headRef, err := r.Head()
	if err != nil {
		return apierrors.Wrap(apierrors.KindInternal, apierrors.ErrCodeNone, "resolve HEAD", err)
	}

	refSpec := config.RefSpec(fmt.Sprintf("%s:refs/heads/%s", headRef.Name(), branchName))
	if err := r.PushContext(ctx, &git.PushOptions{Auth: auth.Method, RefSpecs: []config.RefSpec{refSpec}}); err != nil && err != git.NoErrAlreadyUpToDate {
		return apierrors.Wrap(apierrors.KindTransient, apierrors.ErrCodeNone, "push temporary branch", err)
	}

	deleteSpec := config.RefSpec(fmt.Sprintf(":refs/heads/%s", branchName))
	if err := r.PushContext(ctx, &git.PushOptions{Auth: auth.Method, RefSpecs: []config.RefSpec{deleteSpec}}); err != nil && err != git.NoErrAlreadyUpToDate {
		return apierrors.Wrap(apierrors.KindTransient, apierrors.ErrCodeNone, "delete temporary branch", err)
	}
	return nil
}

func setCommitterIdentity(r *git.Repository, identity Identity) error {
	cfg, err := r.Config()
	if err != nil {
		return err
	}
	cfg.User.Name = identity.Name
	cfg.User.Email = identity.Email
	return r.SetConfig(cfg)
}
