// Package definition parses and validates pipeline definition YAML into the
// domain model. Parsing is a pure transformation; rejected definitions never
// create runs.
package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// pipelineYAML is the top-level structure of a pipeline definition file.
// Example:
//
//	name: release
//	stages: [build, test, deploy]
//	variables:
//	  REGION: us-east-1
//	jobs:
//	  compile:
//	    stage: build
//	    script: ["make dist"]
//	    artifacts:
//	      paths: ["dist/"]
//	      expire_in: 1 week
//	  deploy:
//	    stage: deploy
//	    needs: [compile]
//	    tags: [aws]
//	    script: ["./deploy.sh"]
//	    rules:
//	      - if: '$REF == "main"'
//	        when: manual
//	      - when: never
type pipelineYAML struct {
	// Name is an optional pipeline name for identification
	Name string `yaml:"name,omitempty"`
	// Stages is the ordered stage list; defaults to build, test, deploy
	Stages []string `yaml:"stages,omitempty"`
	// Variables are pipeline-level defaults, overridable per job and per trigger
	Variables map[string]string `yaml:"variables,omitempty"`
	// Jobs maps job names to their specifications. Kept as a raw node so
	// definition order is preserved and duplicate names are detectable.
	// Names starting with "." are templates and are ignored.
	Jobs yaml.Node `yaml:"jobs"`
}

// jobYAML is the specification of a single job
type jobYAML struct {
	// Stage places the job in the pipeline's stage order; defaults to "test"
	Stage string `yaml:"stage,omitempty"`
	// Script is the command payload handed to workers; string or list
	Script stringList `yaml:"script"`
	// Needs lists explicit predecessors, replacing the implicit stage dependency
	Needs []string `yaml:"needs,omitempty"`
	// Tags lists capabilities an executing worker must advertise
	Tags []string `yaml:"tags,omitempty"`
	// Variables are job-level overrides of pipeline variables
	Variables map[string]string `yaml:"variables,omitempty"`
	// Rules are evaluated first-match at eligibility time
	Rules []ruleYAML `yaml:"rules,omitempty"`
	// When sets the run condition when no rules are given, and the default
	// `when` for rules that omit one
	When string `yaml:"when,omitempty"`
	// StartIn delays eligibility; requires when: delayed
	StartIn string `yaml:"start_in,omitempty"`
	// AllowFailure lets the pipeline continue past this job's failure
	AllowFailure bool `yaml:"allow_failure,omitempty"`
	// Timeout bounds a single execution attempt; empty means server default
	Timeout string `yaml:"timeout,omitempty"`
	// Retry bounds automatic re-execution; a bare count or {max, when}
	Retry *retryYAML `yaml:"retry,omitempty"`
	// Artifacts declares files published for dependent jobs
	Artifacts *artifactsYAML `yaml:"artifacts,omitempty"`
	// Dependencies narrows artifact inputs. Absent means artifacts of all
	// needs predecessors; an empty list means none.
	Dependencies *[]string `yaml:"dependencies,omitempty"`
}

// ruleYAML is one run-condition clause
type ruleYAML struct {
	If           string `yaml:"if,omitempty"`
	When         string `yaml:"when,omitempty"`
	StartIn      string `yaml:"start_in,omitempty"`
	AllowFailure *bool  `yaml:"allow_failure,omitempty"`
}

// retryYAML bounds automatic retries. Accepts either a bare count
// (`retry: 2`) or a mapping (`retry: {max: 2, when: [worker_lost]}`).
type retryYAML struct {
	Max  int        `yaml:"max"`
	When stringList `yaml:"when,omitempty"`
}

func (r *retryYAML) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var max int
		if err := value.Decode(&max); err != nil {
			return fmt.Errorf("retry must be a count or a {max, when} mapping")
		}
		r.Max = max
		return nil
	}

	type plain retryYAML
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = retryYAML(p)
	return nil
}

// artifactsYAML declares a job's published files and retention
type artifactsYAML struct {
	Paths    []string `yaml:"paths"`
	ExpireIn string   `yaml:"expire_in,omitempty"`
	When     string   `yaml:"when,omitempty"`
}

// stringList decodes either a YAML scalar or a sequence of scalars
type stringList []string

func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = stringList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = stringList(many)
		return nil
	default:
		return fmt.Errorf("expected a string or a list of strings")
	}
}
