package detect

import (
	"context"
	"os"
	"strings"
)

// GitIdentity is the slice of git state detection reads.
type GitIdentity interface {
	Identity(ctx context.Context) (name, email string)
	RecentAuthors(ctx context.Context, n int) ([]string, error)
	RecentTrailers(ctx context.Context, n int) (string, error)
}

// Context is an immutable snapshot of everything the engine scores.
// Building it is the only impure step; signal collection is a pure
// function of this struct.
type Context struct {
	Env         map[string]string
	ParentProcs []string
	GitName     string
	GitEmail    string
	GitAuthors  []string
	GitTrailers string
	Handshake   *Handshake
}

// Snapshot captures the current process environment, parent process
// chain, git identity and recent authorship, and the handshake file.
// Failures leave fields empty: a missing signal is not an error.
func Snapshot(ctx context.Context, git GitIdentity, handshakePath string) Context {
	dctx := Context{
		Env:         envSnapshot(),
		ParentProcs: parentChain(maxParentDepth),
	}

	if git != nil {
		dctx.GitName, dctx.GitEmail = git.Identity(ctx)
		if authors, err := git.RecentAuthors(ctx, recentCommitWindow); err == nil {
			dctx.GitAuthors = authors
		}
		if trailers, err := git.RecentTrailers(ctx, recentCommitWindow); err == nil {
			dctx.GitTrailers = trailers
		}
	}

	if handshakePath != "" {
		if hs, err := ReadHandshake(handshakePath); err == nil {
			dctx.Handshake = hs
		}
	}

	return dctx
}

func envSnapshot() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}
