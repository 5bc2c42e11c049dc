package permission

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
)

const (
	matchAll     = "*"
	prefixSuffix = ":*"
	domainPrefix = "domain:"
)

// shellOperators chain or redirect commands; a prefix rule must not match
// across one when the command could not be split into leaves.
var shellOperators = []string{"&&", "||", ";", "|", "&", "$(", "`", ">", "<", "\n"}

// MatchPrefix matches content against a rule content that is "*", ends in
// ":*", or is a literal. A ":*" rule matches at a word boundary:
// "npm test:*" matches "npm test" and "npm test --watch" but not "npm testing".
func MatchPrefix(pattern, content string) bool {
	if pattern == matchAll {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, prefixSuffix)
	if !ok {
		return pattern == content
	}
	if content == prefix {
		return true
	}
	return strings.HasPrefix(content, prefix+" ")
}

// MatchPathGlob matches a slash-separated path, relative to the project root,
// against a glob rule content. "*" stays within one segment, "**" spans
// segments, and bracket classes match one character. A leading "./" or "/"
// anchors the pattern at the root and is stripped.
func MatchPathGlob(pattern, rel string) bool {
	if pattern == matchAll {
		return true
	}
	pattern = strings.TrimPrefix(pattern, "./")
	pattern = strings.TrimPrefix(pattern, "/")
	if rel == "." {
		rel = ""
	}
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}

// MatchDomain matches a URL's host against "domain:<host-glob>" rule content.
// Host globs use "." as separator, so "*.example.com" matches
// "api.example.com" but not "a.b.example.com".
func MatchDomain(pattern, rawURL string) bool {
	g, ok := compileHostGlob(pattern)
	return ok && matchHost(g, rawURL)
}

func compileHostGlob(pattern string) (glob.Glob, bool) {
	hostPattern, ok := strings.CutPrefix(pattern, domainPrefix)
	if !ok {
		return nil, false
	}
	g, err := glob.Compile(strings.ToLower(hostPattern), '.')
	if err != nil {
		return nil, false
	}
	return g, true
}

func matchHost(g glob.Glob, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return g.Match(strings.ToLower(u.Hostname()))
}

// containsShellOperator reports whether s could chain another command.
func containsShellOperator(s string) bool {
	for _, op := range shellOperators {
		if strings.Contains(s, op) {
			return true
		}
	}
	return false
}

// MatchBash matches a Bash rule content against a command.
//
// Deny rules match when the whole command or any of its leaf commands
// matches. Allow rules match when the whole command is a single plain leaf
// that matches, or when every leaf matches and none is dynamic. When the
// command cannot be parsed only the whole text is considered, and a prefix
// allow rule never extends across a shell operator.
func MatchBash(pattern string, behavior Behavior, command string, leaves []BashCommand, parsed bool) bool {
	if pattern == matchAll {
		return true
	}
	if !parsed {
		if !MatchPrefix(pattern, command) {
			return false
		}
		if behavior == BehaviorAllow && strings.HasSuffix(pattern, prefixSuffix) {
			rest := command[len(strings.TrimSuffix(pattern, prefixSuffix)):]
			return !containsShellOperator(rest)
		}
		return true
	}

	if behavior == BehaviorDeny {
		if MatchPrefix(pattern, command) {
			return true
		}
		for _, leaf := range leaves {
			if leaf.Text != "" && MatchPrefix(pattern, leaf.Text) {
				return true
			}
		}
		return false
	}

	// An exact rule written for the whole compound line still applies.
	if len(leaves) == 0 || (!strings.HasSuffix(pattern, prefixSuffix) && pattern == command) {
		return MatchPrefix(pattern, command)
	}
	for _, leaf := range leaves {
		if leaf.Dynamic || !MatchPrefix(pattern, leaf.Text) {
			return false
		}
	}
	return true
}
