package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
)

// SetupPython resolves the python-version a matrix cell asks for against
// the interpreters installed on the runner and exports the winner onto
// PATH for the rest of the cell.
type SetupPython struct {
	// root holds one directory per installed interpreter, named by its
	// full version, each with a bin/ subdirectory:
	// <root>/python/3.6.15/bin/python
	root string
	log  *logrus.Entry
}

func NewSetupPython(root string, log *logrus.Entry) *SetupPython {
	return &SetupPython{root: root, log: log}
}

func (s *SetupPython) Name() string { return "setup-python" }

var plainVersion = regexp.MustCompile(`^\d+(\.\d+)?$`)

func (s *SetupPython) Execute(ctx context.Context, spec *Spec, sink Sink) (*Result, error) {
	requested := spec.With["python-version"]
	if requested == "" {
		return provisionFailure(sink, "setup-python needs a python-version input"), nil
	}

	installed, err := s.installed()
	if err != nil {
		return provisionFailure(sink, "toolchains unavailable under %s: %v", s.root, err), nil
	}
	if len(installed) == 0 {
		return provisionFailure(sink, "no python toolchains installed under %s", s.root), nil
	}

	resolved, err := resolveVersion(requested, installed)
	if err != nil {
		available := make([]string, 0, len(installed))
		for _, v := range installed {
			available = append(available, v.Original())
		}
		return provisionFailure(sink, "python %s not installed (available: %s)",
			requested, strings.Join(available, ", ")), nil
	}

	binDir := filepath.Join(s.root, "python", resolved.Original(), "bin")
	if _, err := os.Stat(filepath.Join(binDir, "python")); err != nil {
		return provisionFailure(sink, "toolchain %s is broken: %v", resolved.Original(), err), nil
	}

	sink.Line("stdout", []byte(fmt.Sprintf("using python %s for requested %s", resolved.Original(), requested)))
	path := binDir
	if prev := spec.Env["PATH"]; prev != "" {
		path = binDir + string(os.PathListSeparator) + prev
	}
	return &Result{
		Env: map[string]string{
			"PATH":                  path,
			"GANTRY_PYTHON_VERSION": resolved.Original(),
		},
	}, nil
}

// installed lists the interpreter versions present under the toolchain
// root, skipping directories that do not parse as versions.
func (s *SetupPython) installed() ([]*semver.Version, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "python"))
	if err != nil {
		return nil, err
	}
	versions := make([]*semver.Version, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := semver.NewVersion(e.Name())
		if err != nil {
			s.log.WithField("dir", e.Name()).Debug("skipping non-version toolchain directory")
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// resolveVersion picks the highest installed version satisfying the
// request. A plain "3" or "3.6" widens to the newest matching minor or
// patch release, the way interpreter setup behaves on hosted CI; anything
// else is handed to the constraint parser as written.
func resolveVersion(requested string, installed []*semver.Version) (*semver.Version, error) {
	spec := requested
	if plainVersion.MatchString(requested) {
		spec = "~" + requested
	}
	constraint, err := semver.NewConstraint(spec)
	if err != nil {
		return nil, fmt.Errorf("version request %q: %w", requested, err)
	}

	sorted := make([]*semver.Version, len(installed))
	copy(sorted, installed)
	sort.Sort(sort.Reverse(semver.Collection(sorted)))
	for _, v := range sorted {
		if constraint.Check(v) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no installed python satisfies %q", requested)
}
