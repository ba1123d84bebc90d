package workflow

import (
	"strings"
	"testing"
)

func TestValidateFixture(t *testing.T) {
	wf := compileFixture(t)
	if err := wf.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "no trigger",
			src: `
jobs:
  a:
    steps:
      - run: true
`,
			want: "no trigger",
		},
		{
			name: "no jobs",
			src: `
on: push
`,
			want: "no jobs",
		},
		{
			name: "job id not a slug",
			src: `
on: push
jobs:
  "bad id":
    steps:
      - run: true
`,
			want: "illegal character",
		},
		{
			name: "step with run and uses",
			src: `
on: push
jobs:
  a:
    steps:
      - uses: checkout
        run: true
`,
			want: "both run and uses",
		},
		{
			name: "step with neither run nor uses",
			src: `
on: push
jobs:
  a:
    steps:
      - name: empty
`,
			want: "neither run nor uses",
		},
		{
			name: "unknown action",
			src: `
on: push
jobs:
  a:
    steps:
      - uses: setup-node
`,
			want: "unknown action",
		},
		{
			name: "unknown needs",
			src: `
on: push
jobs:
  a:
    needs: [missing]
    steps:
      - run: true
`,
			want: "unknown job",
		},
		{
			name: "needs cycle",
			src: `
on: push
jobs:
  a:
    needs: [b]
    steps:
      - run: true
  b:
    needs: [a]
    steps:
      - run: true
`,
			want: "cycle",
		},
		{
			name: "empty matrix axis",
			src: `
on: push
jobs:
  a:
    strategy:
      matrix:
        python-version: []
    steps:
      - run: true
`,
			want: "has no values",
		},
		{
			name: "unknown shell",
			src: `
on: push
jobs:
  a:
    steps:
      - run: true
        shell: fish
`,
			want: "unknown shell",
		},
		{
			name: "schedule without cron",
			src: `
on:
  schedule:
    - cron: ""
jobs:
  a:
    steps:
      - run: true
`,
			want: "without cron",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := CompileBytes([]byte(tt.src))
			if err == nil {
				err = wf.Validate()
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestKnownAction(t *testing.T) {
	if !KnownAction("checkout") {
		t.Error("checkout should be known")
	}
	if !KnownAction("setup-python@v1") {
		t.Error("versioned reference should be known")
	}
	if KnownAction("setup-node") {
		t.Error("setup-node should be unknown")
	}
}

func TestJobOrderFollowsNeeds(t *testing.T) {
	src := `
on: push
jobs:
  deploy:
    needs: [test]
    steps:
      - run: true
  test:
    needs: [build]
    steps:
      - run: true
  build:
    steps:
      - run: true
`
	wf, err := CompileBytes([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	order, err := wf.JobOrder()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"build", "test", "deploy"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
