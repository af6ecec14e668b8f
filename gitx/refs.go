package gitx

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// RefUpdate is one line of pre-push stdin:
// <local ref> <local sha> <remote ref> <remote sha>
type RefUpdate struct {
	LocalRef  string
	LocalSHA  string
	RemoteRef string
	RemoteSHA string
}

// ParsePushRefs reads pre-push stdin. Malformed lines are skipped
// rather than failing the whole push.
func ParsePushRefs(r io.Reader) ([]RefUpdate, error) {
	var updates []RefUpdate
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			continue
		}
		updates = append(updates, RefUpdate{
			LocalRef:  fields[0],
			LocalSHA:  fields[1],
			RemoteRef: fields[2],
			RemoteSHA: fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read push refs: %w", err)
	}
	return updates, nil
}

// RefTxUpdate is one line of reference-transaction stdin:
// <old sha> <new sha> <ref name>
type RefTxUpdate struct {
	OldSHA string
	NewSHA string
	Ref    string
}

// ParseRefTxLines reads reference-transaction stdin.
func ParseRefTxLines(r io.Reader) ([]RefTxUpdate, error) {
	var updates []RefTxUpdate
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		updates = append(updates, RefTxUpdate{
			OldSHA: fields[0],
			NewSHA: fields[1],
			Ref:    fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ref transaction: %w", err)
	}
	return updates, nil
}

// BranchFromRef strips the refs/heads/ prefix. Non-branch refs come
// back unchanged so tags stay recognizable.
func BranchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

// IsBranchRef reports whether ref names a local branch.
func IsBranchRef(ref string) bool {
	return strings.HasPrefix(ref, "refs/heads/")
}

// SlugFromURL extracts owner/name from a git remote URL. Handles ssh
// (git@host:owner/name.git) and https (https://host/owner/name.git)
// forms. Returns "" when the URL has no recognizable slug.
func SlugFromURL(url string) string {
	url = strings.TrimSuffix(strings.TrimSpace(url), ".git")
	if url == "" {
		return ""
	}

	// ssh form: git@host:owner/name
	if at := strings.Index(url, "@"); at >= 0 && !strings.Contains(url, "://") {
		if colon := strings.Index(url, ":"); colon > at {
			return trimSlugPath(url[colon+1:])
		}
	}

	// url form: scheme://host/owner/name
	if idx := strings.Index(url, "://"); idx >= 0 {
		rest := url[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			return trimSlugPath(rest[slash+1:])
		}
		return ""
	}

	return ""
}

func trimSlugPath(path string) string {
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return ""
	}
	// Deep paths (self-hosted with groups) keep the last two segments.
	return parts[len(parts)-2] + "/" + parts[len(parts)-1]
}
