// Package workflow holds the model for gantry workflow files and the runs
// planned from them. A workflow file declares triggers, jobs and steps; a
// run is the concrete execution tree after trigger matching and matrix
// expansion.
package workflow

import (
	"fmt"
	"strings"

	"github.com/gantryci/gantry/pkg/orderedmap"
	"gopkg.in/yaml.v3"
)

type WorkflowFile struct {
	Name string                                `yaml:"name" json:"name"`
	On   On                                    `yaml:"on" json:"on"`
	Env  orderedmap.OrderedMap[string, string] `yaml:"env" json:"env"`
	Jobs orderedmap.OrderedMap[string, *Job]   `yaml:"jobs" json:"jobs"`
}

// On enumerates the triggers a workflow subscribes to. A nil trigger means
// the workflow does not react to that event kind.
type On struct {
	PullRequest *PullRequestTrigger `yaml:"pull_request" json:"pull_request,omitempty"`
	Push        *PushTrigger        `yaml:"push" json:"push,omitempty"`
	Schedule    []ScheduleTrigger   `yaml:"schedule" json:"schedule,omitempty"`
	Manual      *ManualTrigger      `yaml:"workflow_dispatch" json:"workflow_dispatch,omitempty"`
}

type PullRequestTrigger struct {
	Branches StringList `yaml:"branches" json:"branches,omitempty"`
	Types    StringList `yaml:"types" json:"types,omitempty"`
}

type PushTrigger struct {
	Branches StringList `yaml:"branches" json:"branches,omitempty"`
	Tags     StringList `yaml:"tags" json:"tags,omitempty"`
}

type ScheduleTrigger struct {
	Cron string `yaml:"cron" json:"cron"`
}

type ManualTrigger struct{}

// UnmarshalYAML accepts the three spellings of the trigger block: a single
// event name, a sequence of event names, or the full mapping form with
// per-trigger filters.
func (o *On) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return o.enable(node.Value, node.Line)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			var name string
			if err := item.Decode(&name); err != nil {
				return err
			}
			if err := o.enable(name, item.Line); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		type onAlias On
		var alias onAlias
		if err := node.Decode(&alias); err != nil {
			return err
		}
		*o = On(alias)
		return nil
	}
	return fmt.Errorf("yaml: line %d: cannot unmarshal %s into a trigger block", node.Line, node.ShortTag())
}

func (o *On) enable(event string, line int) error {
	switch event {
	case EventPullRequest:
		o.PullRequest = &PullRequestTrigger{}
	case EventPush:
		o.Push = &PushTrigger{}
	case EventWorkflowDispatch:
		o.Manual = &ManualTrigger{}
	default:
		return fmt.Errorf("yaml: line %d: unknown trigger %q", line, event)
	}
	return nil
}

// Empty reports whether no trigger is declared at all.
func (o On) Empty() bool {
	return o.PullRequest == nil && o.Push == nil && len(o.Schedule) == 0 && o.Manual == nil
}

type Job struct {
	Name           string                                `yaml:"name" json:"name"`
	RunsOn         string                                `yaml:"runs-on" json:"runs_on"`
	Needs          StringList                            `yaml:"needs" json:"needs,omitempty"`
	If             string                                `yaml:"if" json:"if,omitempty"`
	Env            orderedmap.OrderedMap[string, string] `yaml:"env" json:"env"`
	Container      string                                `yaml:"container" json:"container,omitempty"`
	Strategy       *Strategy                             `yaml:"strategy" json:"strategy,omitempty"`
	TimeoutMinutes int                                   `yaml:"timeout-minutes" json:"timeout_minutes,omitempty"`
	Steps          []*Step                               `yaml:"steps" json:"steps"`
}

type Strategy struct {
	Matrix *Matrix `yaml:"matrix" json:"matrix,omitempty"`
	// FailFast cancels the remaining cells of this job once one cell
	// fails. It is off unless the workflow asks for it, so by default the
	// cells of a matrix stay independent.
	FailFast    bool `yaml:"fail-fast" json:"fail_fast"`
	MaxParallel int  `yaml:"max-parallel" json:"max_parallel,omitempty"`
}

// Matrix declares the axes a job fans out over. Axis values are kept as the
// literal scalars from the document, so 3.10 stays "3.10" instead of
// collapsing into a float.
type Matrix struct {
	Axes    orderedmap.OrderedMap[string, []string] `json:"axes"`
	Include []map[string]string                     `json:"include,omitempty"`
	Exclude []map[string]string                     `json:"exclude,omitempty"`
}

func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("yaml: line %d: cannot unmarshal %s into a matrix", node.Line, node.ShortTag())
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "include":
			if err := val.Decode(&m.Include); err != nil {
				return err
			}
		case "exclude":
			if err := val.Decode(&m.Exclude); err != nil {
				return err
			}
		default:
			var values []string
			if err := val.Decode(&values); err != nil {
				return err
			}
			m.Axes.Set(key, values)
		}
	}
	return nil
}

type Step struct {
	ID               string                                `yaml:"id" json:"id,omitempty"`
	Name             string                                `yaml:"name" json:"name,omitempty"`
	Uses             string                                `yaml:"uses" json:"uses,omitempty"`
	With             orderedmap.OrderedMap[string, string] `yaml:"with" json:"with"`
	Run              string                                `yaml:"run" json:"run,omitempty"`
	Shell            string                                `yaml:"shell" json:"shell,omitempty"`
	Env              orderedmap.OrderedMap[string, string] `yaml:"env" json:"env"`
	If               string                                `yaml:"if" json:"if,omitempty"`
	WorkingDirectory string                                `yaml:"working-directory" json:"working_directory,omitempty"`
	TimeoutMinutes   int                                   `yaml:"timeout-minutes" json:"timeout_minutes,omitempty"`
	ContinueOnError  bool                                  `yaml:"continue-on-error" json:"continue_on_error,omitempty"`
}

// DisplayName is the label shown for the step in run output: the explicit
// name, else the action reference, else the first line of the command.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	line := s.Run
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// StringList accepts both a bare scalar and a sequence of scalars.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	return fmt.Errorf("yaml: line %d: cannot unmarshal %s into a string list", node.Line, node.ShortTag())
}

// Contains reports whether v is present in the list.
func (l StringList) Contains(v string) bool {
	for _, item := range l {
		if item == v {
			return true
		}
	}
	return false
}
