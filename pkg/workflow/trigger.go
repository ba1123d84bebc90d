package workflow

import (
	"regexp"
	"strings"
)

const (
	EventPullRequest      = "pull_request"
	EventPush             = "push"
	EventSchedule         = "schedule"
	EventWorkflowDispatch = "workflow_dispatch"
)

// Actions of a pull_request event that fire a workflow when the trigger
// does not narrow them down itself.
var defaultPullRequestTypes = StringList{"opened", "synchronize", "reopened"}

// Event is a normalized trigger occurrence. Webhook payloads, schedule
// ticks and manual dispatches all reduce to this before matching.
type Event struct {
	Kind       string `json:"kind"`
	Action     string `json:"action,omitempty"`
	Repo       string `json:"repo,omitempty"`
	Branch     string `json:"branch,omitempty"`
	HeadBranch string `json:"head_branch,omitempty"`
	Tag        string `json:"tag,omitempty"`
	SHA        string `json:"sha,omitempty"`
	Number     int    `json:"number,omitempty"`
	Sender     string `json:"sender,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
	ReceivedAt int64  `json:"received_at,omitempty"`
}

// Matches decides whether the event fires this workflow. For pull requests
// the branch filter applies to the base branch, so a workflow restricted to
// master only reacts to pull requests that target master.
func (o On) Matches(ev Event) bool {
	switch ev.Kind {
	case EventPullRequest:
		t := o.PullRequest
		if t == nil {
			return false
		}
		types := t.Types
		if len(types) == 0 {
			types = defaultPullRequestTypes
		}
		if ev.Action != "" && !types.Contains(ev.Action) {
			return false
		}
		return matchesAny(t.Branches, ev.Branch)
	case EventPush:
		t := o.Push
		if t == nil {
			return false
		}
		if ev.Tag != "" {
			return matchesAny(t.Tags, ev.Tag)
		}
		if len(t.Tags) > 0 && len(t.Branches) == 0 {
			return false
		}
		return matchesAny(t.Branches, ev.Branch)
	case EventSchedule:
		return len(o.Schedule) > 0
	case EventWorkflowDispatch:
		return o.Manual != nil
	}
	return false
}

// matchesAny applies branch glob patterns; an empty filter matches every
// ref.
func matchesAny(patterns StringList, ref string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if MatchGlob(p, ref) {
			return true
		}
	}
	return false
}

// MatchGlob matches ref names the way trigger filters do: * stops at /,
// ** crosses it, ? matches one character.
func MatchGlob(pattern, name string) bool {
	re, err := globRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

func globRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
