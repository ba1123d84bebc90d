package workflow

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CompileFile parses a workflow file. A workflow without a name takes the
// file name without extension.
func CompileFile(file string) (*WorkflowFile, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	wf, err := CompileBytes(b)
	if err != nil {
		return nil, err
	}
	if wf.Name == "" {
		base := filepath.Base(file)
		wf.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return wf, nil
}

func CompileBytes(b []byte) (*WorkflowFile, error) {
	var wf WorkflowFile
	if err := yaml.Unmarshal(b, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}
