package workflow

import "testing"

func TestMatchesPullRequestTargetBranch(t *testing.T) {
	wf := compileFixture(t)

	fire := Event{Kind: EventPullRequest, Action: "opened", Branch: "master", HeadBranch: "feature/imu"}
	if !wf.On.Matches(fire) {
		t.Error("pull request targeting master must fire")
	}

	elsewhere := Event{Kind: EventPullRequest, Action: "opened", Branch: "develop"}
	if wf.On.Matches(elsewhere) {
		t.Error("pull request targeting develop must not fire")
	}
}

// A workflow subscribed only to pull_request stays silent for every other
// event kind, pushes to master included.
func TestMatchesAbsenceForOtherEvents(t *testing.T) {
	wf := compileFixture(t)

	events := []Event{
		{Kind: EventPush, Branch: "master"},
		{Kind: EventPush, Branch: "feature/imu"},
		{Kind: EventSchedule},
		{Kind: EventWorkflowDispatch},
		{Kind: "release"},
	}
	for _, ev := range events {
		if wf.On.Matches(ev) {
			t.Errorf("event %+v must not fire a pull_request-only workflow", ev)
		}
	}
}

func TestMatchesPullRequestDefaultTypes(t *testing.T) {
	on := On{PullRequest: &PullRequestTrigger{Branches: StringList{"master"}}}

	for _, action := range []string{"opened", "synchronize", "reopened"} {
		if !on.Matches(Event{Kind: EventPullRequest, Action: action, Branch: "master"}) {
			t.Errorf("action %q must fire by default", action)
		}
	}
	if on.Matches(Event{Kind: EventPullRequest, Action: "closed", Branch: "master"}) {
		t.Error("closed must not fire by default")
	}
}

func TestMatchesPullRequestExplicitTypes(t *testing.T) {
	on := On{PullRequest: &PullRequestTrigger{Types: StringList{"closed"}}}
	if !on.Matches(Event{Kind: EventPullRequest, Action: "closed", Branch: "master"}) {
		t.Error("explicit closed type must fire")
	}
	if on.Matches(Event{Kind: EventPullRequest, Action: "opened", Branch: "master"}) {
		t.Error("opened must not fire when types narrows to closed")
	}
}

func TestMatchesPushBranchesAndTags(t *testing.T) {
	on := On{Push: &PushTrigger{Branches: StringList{"master", "releases/*"}}}

	if !on.Matches(Event{Kind: EventPush, Branch: "master"}) {
		t.Error("push to master must fire")
	}
	if !on.Matches(Event{Kind: EventPush, Branch: "releases/v1"}) {
		t.Error("push to releases/v1 must fire")
	}
	if on.Matches(Event{Kind: EventPush, Branch: "releases/v1/hotfix"}) {
		t.Error("single star must not cross a slash")
	}

	tags := On{Push: &PushTrigger{Tags: StringList{"v*"}}}
	if !tags.Matches(Event{Kind: EventPush, Tag: "v1.2.3"}) {
		t.Error("tag push must fire")
	}
	if tags.Matches(Event{Kind: EventPush, Branch: "master"}) {
		t.Error("branch push must not fire a tags-only trigger")
	}
}

func TestMatchesScheduleAndDispatch(t *testing.T) {
	on := On{
		Schedule: []ScheduleTrigger{{Cron: "0 0 * * *"}},
		Manual:   &ManualTrigger{},
	}
	if !on.Matches(Event{Kind: EventSchedule}) {
		t.Error("schedule event must fire")
	}
	if !on.Matches(Event{Kind: EventWorkflowDispatch}) {
		t.Error("dispatch event must fire")
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"master", "master", true},
		{"master", "masters", false},
		{"releases/*", "releases/v1", true},
		{"releases/*", "releases/v1/rc", false},
		{"releases/**", "releases/v1/rc", true},
		{"**", "any/thing/at/all", true},
		{"v?", "v1", true},
		{"v?", "v10", false},
		{"feature/*", "bugfix/x", false},
	}
	for _, tt := range tests {
		if got := MatchGlob(tt.pattern, tt.name); got != tt.want {
			t.Errorf("MatchGlob(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}
