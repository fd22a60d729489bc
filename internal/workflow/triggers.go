package workflow

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	EventPullRequest = "pull_request"
	EventPush        = "push"
)

// default activity types GitHub uses for pull_request when none are given
var defaultPullRequestTypes = []string{"opened", "synchronize", "reopened"}

// Triggers is the decoded "on" section. Events other than pull_request and
// push are kept by name only.
type Triggers struct {
	PullRequest *Filter
	Push        *Filter
	Other       []string
}

// Filter narrows an event to a set of branches and, for pull requests,
// activity types.
type Filter struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
	Types          []string `yaml:"types"`
}

// UnmarshalYAML accepts the three forms of "on": a single event name, a list
// of event names, or a map of event name to filter.
func (t *Triggers) UnmarshalYAML(n *yaml.Node) error {
	*t = Triggers{}
	switch n.Kind {
	case yaml.ScalarNode:
		t.add(n.Value, nil)
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return err
		}
		for _, name := range names {
			t.add(name, nil)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			var f *Filter
			if val.Kind == yaml.MappingNode {
				f = &Filter{}
				if err := val.Decode(f); err != nil {
					return fmt.Errorf("on.%s: %w", key.Value, err)
				}
			}
			t.add(key.Value, f)
		}
	default:
		return fmt.Errorf("line %d: unsupported form for \"on\"", n.Line)
	}
	return nil
}

func (t *Triggers) add(name string, f *Filter) {
	if f == nil {
		f = &Filter{}
	}
	switch name {
	case EventPullRequest:
		t.PullRequest = f
	case EventPush:
		t.Push = f
	default:
		t.Other = append(t.Other, name)
	}
}

// Empty reports whether no event triggers the workflow.
func (t Triggers) Empty() bool {
	return t.PullRequest == nil && t.Push == nil && len(t.Other) == 0
}

// MatchPullRequest reports whether a pull_request event with the given
// activity type targeting baseBranch triggers the workflow.
func (t Triggers) MatchPullRequest(action, baseBranch string) bool {
	if t.PullRequest == nil {
		return false
	}
	types := t.PullRequest.Types
	if len(types) == 0 {
		types = defaultPullRequestTypes
	}
	if !contains(types, action) {
		return false
	}
	return t.PullRequest.matchBranch(strings.TrimPrefix(baseBranch, "refs/heads/"))
}

// MatchPush reports whether a push to ref triggers the workflow. Tag pushes
// never match a branch filter.
func (t Triggers) MatchPush(ref string) bool {
	if t.Push == nil {
		return false
	}
	hasBranchFilter := len(t.Push.Branches) > 0 || len(t.Push.BranchesIgnore) > 0
	if strings.HasPrefix(ref, "refs/tags/") {
		return !hasBranchFilter
	}
	return t.Push.matchBranch(strings.TrimPrefix(ref, "refs/heads/"))
}

// MatchBranch reports whether a push to branch triggers the workflow,
// for events that carry a bare branch name.
func (t Triggers) MatchBranch(branch string) bool {
	return t.MatchPush("refs/heads/" + branch)
}

func (f *Filter) matchBranch(branch string) bool {
	if len(f.Branches) > 0 {
		return matchPatterns(f.Branches, branch)
	}
	if len(f.BranchesIgnore) > 0 {
		for _, p := range f.BranchesIgnore {
			if globMatch(p, branch) {
				return false
			}
		}
	}
	return true
}

// matchPatterns applies patterns in order; a leading "!" negates a pattern
// and the last matching pattern wins.
func matchPatterns(patterns []string, name string) bool {
	matched := false
	for _, p := range patterns {
		if neg, ok := strings.CutPrefix(p, "!"); ok {
			if globMatch(neg, name) {
				matched = false
			}
			continue
		}
		if globMatch(p, name) {
			matched = true
		}
	}
	return matched
}

var globCache sync.Map // pattern -> *regexp.Regexp, nil when invalid

func globMatch(pattern, name string) bool {
	v, ok := globCache.Load(pattern)
	if !ok {
		re, _ := regexp.Compile(globRegexp(pattern))
		v, _ = globCache.LoadOrStore(pattern, re)
	}
	re := v.(*regexp.Regexp)
	return re != nil && re.MatchString(name)
}

// globRegexp translates a GitHub filter pattern. "*" stays within one path
// segment and "**" crosses them. "?" and "+" make the preceding character
// optional or repeatable, "[...]" is a character class and "\" escapes the
// next character.
func globRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	rs := []rune(pattern)
	atom := false // whether "?" or "+" has something to apply to
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '*':
			if i+1 < len(rs) && rs[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
			atom = false
		case (c == '?' || c == '+') && atom:
			b.WriteRune(c)
			atom = false
		case c == '[':
			if end := classEnd(rs, i); end > 0 {
				b.WriteString("[" + classEscaper.Replace(string(rs[i+1:end])) + "]")
				i = end
			} else {
				b.WriteString(`\[`)
			}
			atom = true
		case c == '\\' && i+1 < len(rs):
			i++
			b.WriteString(regexp.QuoteMeta(string(rs[i])))
			atom = true
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			atom = true
		}
	}
	b.WriteString("$")
	return b.String()
}

var classEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`)

// classEnd returns the index of the "]" closing a non-empty class opened at
// start, or -1.
func classEnd(rs []rune, start int) int {
	for j := start + 2; j < len(rs); j++ {
		if rs[j] == ']' {
			return j
		}
	}
	return -1
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
