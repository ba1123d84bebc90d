package workflow

import (
	"testing"
)

func compileFixture(t *testing.T) *WorkflowFile {
	t.Helper()
	wf, err := CompileFile("testdata/ci.yml")
	if err != nil {
		t.Fatal(err)
	}
	return wf
}

func TestCompileFixture(t *testing.T) {
	wf := compileFixture(t)

	if wf.Name != "ci" {
		t.Errorf("name = %q, want ci", wf.Name)
	}
	if wf.On.PullRequest == nil {
		t.Fatal("pull_request trigger missing")
	}
	if got := wf.On.PullRequest.Branches; len(got) != 1 || got[0] != "master" {
		t.Errorf("branches = %v, want [master]", got)
	}
	if wf.Jobs.Len() != 1 {
		t.Fatalf("jobs = %d, want 1", wf.Jobs.Len())
	}

	job := wf.Jobs.Get("build")
	if job == nil {
		t.Fatal("job build missing")
	}
	if job.RunsOn != "ubuntu-latest" {
		t.Errorf("runs-on = %q", job.RunsOn)
	}
	if len(job.Steps) != 5 {
		t.Fatalf("steps = %d, want 5", len(job.Steps))
	}
	if job.Steps[0].Uses != "checkout" {
		t.Errorf("step 1 uses = %q, want checkout", job.Steps[0].Uses)
	}
	if job.Steps[1].Uses != "setup-python" {
		t.Errorf("step 2 uses = %q, want setup-python", job.Steps[1].Uses)
	}
	if got := job.Steps[1].With.Get("python-version"); got != "${{ matrix.python-version }}" {
		t.Errorf("setup-python with = %q", got)
	}
	if got := job.Steps[4].Run; got != "pytest --cov=raspberry_pi" {
		t.Errorf("test step run = %q", got)
	}
}

func TestCompileMatrixKeepsLiteralValues(t *testing.T) {
	src := `
on: workflow_dispatch
jobs:
  build:
    steps:
      - run: true
    strategy:
      matrix:
        python-version: [3.6, 3.10, "3.11"]
`
	wf, err := CompileBytes([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	values := wf.Jobs.Get("build").Strategy.Matrix.Axes.Get("python-version")
	want := []string{"3.6", "3.10", "3.11"}
	if len(values) != len(want) {
		t.Fatalf("values = %v, want %v", values, want)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("values[%d] = %q, want %q", i, values[i], want[i])
		}
	}
}

func TestCompileOnShorthand(t *testing.T) {
	scalar := `
on: pull_request
jobs:
  a:
    steps:
      - run: true
`
	wf, err := CompileBytes([]byte(scalar))
	if err != nil {
		t.Fatal(err)
	}
	if wf.On.PullRequest == nil {
		t.Error("scalar shorthand did not enable pull_request")
	}

	seq := `
on: [push, workflow_dispatch]
jobs:
  a:
    steps:
      - run: true
`
	wf, err = CompileBytes([]byte(seq))
	if err != nil {
		t.Fatal(err)
	}
	if wf.On.Push == nil || wf.On.Manual == nil {
		t.Error("sequence shorthand did not enable push and workflow_dispatch")
	}
	if wf.On.PullRequest != nil {
		t.Error("sequence shorthand enabled pull_request")
	}
}

func TestCompileUnknownTrigger(t *testing.T) {
	src := `
on: release
jobs:
  a:
    steps:
      - run: true
`
	if _, err := CompileBytes([]byte(src)); err == nil {
		t.Fatal("expected error for unknown trigger")
	}
}

func TestCompileJobsKeepDocumentOrder(t *testing.T) {
	src := `
on: push
jobs:
  lint:
    steps:
      - run: true
  docs:
    steps:
      - run: true
  test:
    steps:
      - run: true
`
	wf, err := CompileBytes([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"lint", "docs", "test"}
	for i, id := range wf.Jobs.Keys() {
		if id != want[i] {
			t.Fatalf("jobs order = %v, want %v", wf.Jobs.Keys(), want)
		}
	}
}

func TestCompileNeedsScalar(t *testing.T) {
	src := `
on: push
jobs:
  build:
    steps:
      - run: true
  deploy:
    needs: build
    steps:
      - run: true
`
	wf, err := CompileBytes([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	needs := wf.Jobs.Get("deploy").Needs
	if len(needs) != 1 || needs[0] != "build" {
		t.Errorf("needs = %v, want [build]", needs)
	}
}
