package controllers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/gantryci/gantry/pkg/workflow"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHookSignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	secret := "s3cret"

	if !VerifyHookSignature(signBody(secret, body), secret, body) {
		t.Fatal("valid signature rejected")
	}
	if VerifyHookSignature(signBody("other", body), secret, body) {
		t.Fatal("signature under wrong secret accepted")
	}
	if VerifyHookSignature(signBody(secret, body), secret, []byte(`{"action":"closed"}`)) {
		t.Fatal("signature over different body accepted")
	}
	if VerifyHookSignature("", secret, body) {
		t.Fatal("empty header accepted")
	}
	if VerifyHookSignature("sha256=zzzz", secret, body) {
		t.Fatal("malformed hex accepted")
	}
}

func TestTranslatePullRequestHook(t *testing.T) {
	body := []byte(`{
		"action": "synchronize",
		"number": 12,
		"pull_request": {
			"head": {"ref": "fix-build", "sha": "abc123"},
			"base": {"ref": "master"}
		},
		"repository": {"full_name": "octo/raspberry"},
		"sender": {"login": "octocat"}
	}`)

	ev, err := TranslateHook("pull_request", body)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if ev.Kind != workflow.EventPullRequest {
		t.Fatalf("kind = %q", ev.Kind)
	}
	if ev.Branch != "master" {
		t.Fatalf("base branch = %q, want master", ev.Branch)
	}
	if ev.HeadBranch != "fix-build" || ev.SHA != "abc123" {
		t.Fatalf("head = %q@%q", ev.HeadBranch, ev.SHA)
	}
	if ev.Number != 12 || ev.Repo != "octo/raspberry" || ev.Sender != "octocat" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestTranslatePushHook(t *testing.T) {
	branch := []byte(`{
		"ref": "refs/heads/master",
		"after": "def456",
		"repository": {"full_name": "octo/raspberry"},
		"sender": {"login": "octocat"}
	}`)
	ev, err := TranslateHook("push", branch)
	if err != nil {
		t.Fatalf("translate branch push: %v", err)
	}
	if ev.Branch != "master" || ev.Tag != "" || ev.SHA != "def456" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	tag := []byte(`{"ref": "refs/tags/v1.2.0", "after": "aaa", "repository": {"full_name": "octo/raspberry"}}`)
	ev, err = TranslateHook("push", tag)
	if err != nil {
		t.Fatalf("translate tag push: %v", err)
	}
	if ev.Tag != "v1.2.0" || ev.Branch != "" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	deleted := []byte(`{"ref": "refs/heads/gone", "deleted": true, "after": "0000"}`)
	if _, err := TranslateHook("push", deleted); err == nil {
		t.Fatal("deletion push should not translate")
	}
}

func TestTranslateUnhandledHook(t *testing.T) {
	if _, err := TranslateHook("issues", []byte(`{}`)); err == nil {
		t.Fatal("unhandled event should error")
	}
}

func TestPullRequestHookMatchesBaseBranchTrigger(t *testing.T) {
	doc := []byte(`
name: ci
on:
  pull_request:
    branches: [master]
jobs:
  lint:
    runs-on: ubuntu-latest
    steps:
      - run: echo hi
`)
	wf, err := workflow.CompileBytes(doc)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	toMaster := []byte(`{
		"action": "opened",
		"pull_request": {"head": {"ref": "feature", "sha": "abc"}, "base": {"ref": "master"}},
		"repository": {"full_name": "octo/raspberry"}
	}`)
	ev, err := TranslateHook("pull_request", toMaster)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !wf.On.Matches(*ev) {
		t.Fatal("pull request targeting master should match")
	}

	toDev := []byte(`{
		"action": "opened",
		"pull_request": {"head": {"ref": "feature", "sha": "abc"}, "base": {"ref": "dev"}},
		"repository": {"full_name": "octo/raspberry"}
	}`)
	ev, err = TranslateHook("pull_request", toDev)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if wf.On.Matches(*ev) {
		t.Fatal("pull request targeting dev should not match")
	}

	push := []byte(`{"ref": "refs/heads/master", "after": "abc", "repository": {"full_name": "octo/raspberry"}}`)
	ev, err = TranslateHook("push", push)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if wf.On.Matches(*ev) {
		t.Fatal("push should not fire a pull_request-only workflow")
	}
}
