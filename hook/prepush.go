package hook

import (
	"context"
	"io"
	"time"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/gitx"
	"github.com/yairfalse/vahti/types"
)

// runPrePush handles both invocation shapes: the hook shim passes the
// ref update as arguments (localRef localSha remoteRef remoteSha
// [remote] [url]), while git itself passes (remote url) and streams
// updates on stdin. The first blocked update stops the push.
func (r *Runner) runPrePush(ctx context.Context, args []string, stdin io.Reader) int {
	remote, remoteURL, updates := r.pushUpdates(ctx, args, stdin)
	if len(updates) == 0 {
		return ExitAllow
	}

	for _, update := range updates {
		event, skip := r.classifyPush(ctx, update, remote, remoteURL)
		if skip {
			continue
		}
		if event.Operation == types.OpPush && !event.Protected {
			// Routine push. No detection, no service call, no cache.
			r.settle(ctx, &evaluation{event: event, command: event.Command()}, verdict{
				action: types.ActionAllow,
				event:  audit.EventAllow,
				reason: "branch not protected",
				exit:   ExitAllow,
			})
			continue
		}
		if code := r.evaluate(ctx, event, evalOptions{interactive: true}); code != ExitAllow {
			return code
		}
	}
	return ExitAllow
}

// pushUpdates normalizes the two argument shapes into ref updates.
func (r *Runner) pushUpdates(ctx context.Context, args []string, stdin io.Reader) (remote, url string, updates []gitx.RefUpdate) {
	switch {
	case len(args) >= 4 && looksLikeSHA(args[1]) && looksLikeSHA(args[3]):
		remote = "origin"
		if len(args) >= 5 {
			remote = args[4]
		}
		if len(args) >= 6 {
			url = args[5]
		}
		updates = []gitx.RefUpdate{{
			LocalRef:  args[0],
			LocalSHA:  args[1],
			RemoteRef: args[2],
			RemoteSHA: args[3],
		}}
	case len(args) == 2:
		remote, url = args[0], args[1]
		parsed, err := gitx.ParsePushRefs(stdin)
		if err != nil {
			r.logger.WithContext(ctx).Warn().Err(err).Msg("unreadable pre-push stdin")
			return remote, url, nil
		}
		updates = parsed
	default:
		r.logger.WithContext(ctx).Debug().Strs("args", args).Msg("unrecognized pre-push arguments")
	}
	return remote, url, updates
}

// classifyPush derives the operation for one ref update. Deletion wins
// over force-push wins over merge wins over plain push. skip is true
// for refs enforcement does not cover (tags, notes).
func (r *Runner) classifyPush(ctx context.Context, update gitx.RefUpdate, remote, url string) (*types.GitOperationEvent, bool) {
	ref := update.RemoteRef
	if ref == "" {
		ref = update.LocalRef
	}
	if !gitx.IsBranchRef(ref) {
		return nil, true
	}
	branch := gitx.BranchFromRef(ref)

	event := &types.GitOperationEvent{
		Hook:      types.HookPrePush,
		Operation: types.OpPush,
		Branch:    branch,
		Ref:       ref,
		Remote:    remote,
		RemoteURL: url,
		Repo:      r.repoSlug(ctx, url),
		Protected: r.cfg.IsProtected(branch),
		OldSHA:    update.RemoteSHA,
		NewSHA:    update.LocalSHA,
		CreatedAt: time.Now().UTC(),
	}

	switch {
	case update.LocalSHA == types.ZeroSHA:
		event.Operation = types.OpBranchDelete
	case update.RemoteSHA == types.ZeroSHA:
		// New branch on the remote, nothing to overwrite.
	default:
		ancestor, err := r.git.IsAncestor(ctx, update.RemoteSHA, update.LocalSHA)
		if err != nil {
			// Unverifiable ancestry reads as a rewrite: the remote tip
			// is not reachable from what we are about to push.
			r.logger.WithContext(ctx).Debug().Err(err).Str("ref", ref).Msg("ancestry check failed")
			ancestor = false
		}
		if !ancestor {
			event.Operation = types.OpForcePush
			if n, err := r.git.CountCommits(ctx, update.LocalSHA, update.RemoteSHA); err == nil {
				event.CommitDelta = n
			}
			break
		}
		if event.Protected {
			if parents, err := r.git.MergeParentCount(ctx, update.LocalSHA); err == nil && parents >= 2 {
				event.Operation = types.OpMerge
			}
		}
	}
	return event, false
}

// repoSlug prefers the pushed URL over remote lookup: the URL in hand
// is authoritative for where this push lands.
func (r *Runner) repoSlug(ctx context.Context, url string) string {
	if url != "" {
		if slug := gitx.SlugFromURL(url); slug != "" {
			return slug
		}
	}
	return r.git.RepoSlug(ctx)
}

// looksLikeSHA accepts 40- and 64-hex object ids.
func looksLikeSHA(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
