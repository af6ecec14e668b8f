package opcache

import "strings"

// dangerousFlags make a command not-safe no matter what else it says.
var dangerousFlags = map[string]bool{
	"--force":             true,
	"--force-with-lease":  true,
	"--force-if-includes": true,
	"-f":                  true,
	"--hard":              true,
	"-D":                  true,
	"-d":                  true,
	"--delete":            true,
	"--mirror":            true,
	"--prune":             true,
}

// safetyCheckFunc returns false when the token disqualifies the
// command from the definitely-safe fast path.
type safetyCheckFunc func(token string) bool

var safetyChecks = []safetyCheckFunc{
	checkDangerousFlag,
	checkForceRefspec,
	checkDeleteRefspec,
}

// IsDefinitelySafe pre-filters a command before any cache lookup or
// network call. It is purely lexical: one dangerous token and the
// answer is no, regardless of any allow list.
func IsDefinitelySafe(command string) bool {
	for _, token := range strings.Fields(command) {
		for _, check := range safetyChecks {
			if !check(token) {
				return false
			}
		}
	}
	return true
}

func checkDangerousFlag(token string) bool {
	if dangerousFlags[token] {
		return false
	}
	// --force=... and --delete=... variants
	if i := strings.IndexByte(token, '='); i > 0 && dangerousFlags[token[:i]] {
		return false
	}
	return true
}

// checkForceRefspec catches +ref force markers (git push origin +main).
func checkForceRefspec(token string) bool {
	return !strings.HasPrefix(token, "+")
}

// checkDeleteRefspec catches :branch deletion refspecs
// (git push origin :feature). A bare ":" is a matching push, and a
// colon with a non-empty left side is an ordinary src:dst refspec.
func checkDeleteRefspec(token string) bool {
	if strings.HasPrefix(token, ":") && len(token) > 1 {
		return false
	}
	return true
}
