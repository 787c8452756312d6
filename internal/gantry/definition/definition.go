package definition

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gantryci/gantry/internal/gantry/domain"
	"github.com/gantryci/gantry/internal/gantry/rules"
	"github.com/gantryci/gantry/pkg/errors"
)

// defaultStages applies when a definition omits the stages list
var defaultStages = []string{"build", "test", "deploy"}

// defaultStage places jobs that omit their stage
const defaultStage = "test"

const maxNameLength = 255

// reservedJobNames collide with top-level definition keys; a job carrying
// one is almost always an indentation mistake.
var reservedJobNames = map[string]bool{
	"name":      true,
	"stages":    true,
	"variables": true,
	"jobs":      true,
}

var validWhen = map[string]domain.RunWhen{
	"on_success": domain.WhenOnSuccess,
	"on_failure": domain.WhenOnFailure,
	"always":     domain.WhenAlways,
	"never":      domain.WhenNever,
	"manual":     domain.WhenManual,
	"delayed":    domain.WhenDelayed,
}

var validArtifactWhen = map[string]domain.ArtifactWhen{
	"on_success": domain.ArtifactOnSuccess,
	"on_failure": domain.ArtifactOnFailure,
	"always":     domain.ArtifactAlways,
}

// retryableKinds are the failure kinds a retry policy may filter on.
// missing_artifact and canceled are deliberately absent: neither is ever
// retried automatically.
var retryableKinds = map[string]domain.FailureKind{
	"script_failure": domain.FailureScript,
	"worker_lost":    domain.FailureWorkerLost,
	"timeout":        domain.FailureTimeout,
}

// Parse decodes and validates a pipeline definition. Every rejection wraps
// ErrMalformedDefinition and names the offending job; a rejected definition
// never creates a run.
func Parse(data []byte) (*domain.PipelineDefinition, error) {
	var doc pipelineYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, malformed("pipeline", "", "invalid YAML: %v", err)
	}

	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = "pipeline"
	}
	if len(name) > maxNameLength {
		return nil, malformed("pipeline", "", "pipeline name exceeds %d characters", maxNameLength)
	}

	def := &domain.PipelineDefinition{Name: name}

	stages, err := buildStages(name, doc.Stages)
	if err != nil {
		return nil, err
	}
	def.Stages = stages

	if err := validateVariables(name, "", doc.Variables); err != nil {
		return nil, err
	}
	def.Variables = doc.Variables

	jobs, err := buildJobs(name, def, &doc.Jobs)
	if err != nil {
		return nil, err
	}
	def.Jobs = jobs

	if err := validateReferences(name, def); err != nil {
		return nil, err
	}

	return def, nil
}

// malformed builds a MalformedDefinition error naming the offending job
func malformed(pipeline, job, format string, args ...interface{}) error {
	detail := fmt.Sprintf(format, args...)
	return errors.WrapDefinitionError(pipeline, job,
		fmt.Errorf("%s: %w", detail, errors.ErrMalformedDefinition))
}

// buildStages validates the stage list, applying the default when omitted
func buildStages(pipeline string, stages []string) ([]string, error) {
	if len(stages) == 0 {
		return append([]string(nil), defaultStages...), nil
	}

	seen := make(map[string]bool, len(stages))
	for _, stage := range stages {
		if strings.TrimSpace(stage) == "" {
			return nil, malformed(pipeline, "", "empty stage name")
		}
		if seen[stage] {
			return nil, malformed(pipeline, "", "duplicate stage %q", stage)
		}
		seen[stage] = true
	}

	return append([]string(nil), stages...), nil
}

// buildJobs decodes the jobs mapping in definition order
func buildJobs(pipeline string, def *domain.PipelineDefinition, node *yaml.Node) ([]*domain.JobDefinition, error) {
	if node.Kind != yaml.MappingNode {
		return nil, malformed(pipeline, "", "pipeline defines no jobs")
	}

	var jobs []*domain.JobDefinition
	seen := make(map[string]bool)

	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value

		// Leading dot marks a template entry, not a runnable job
		if strings.HasPrefix(name, ".") {
			continue
		}

		if strings.TrimSpace(name) == "" {
			return nil, malformed(pipeline, "", "empty job name")
		}
		if len(name) > maxNameLength {
			return nil, malformed(pipeline, name, "job name exceeds %d characters", maxNameLength)
		}
		if strings.ContainsAny(name, "/\\") {
			return nil, malformed(pipeline, name, "job name must not contain path separators")
		}
		if reservedJobNames[name] {
			return nil, malformed(pipeline, name, "job name %q is reserved", name)
		}
		if seen[name] {
			return nil, malformed(pipeline, name, "duplicate job %q", name)
		}
		seen[name] = true

		var spec jobYAML
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return nil, malformed(pipeline, name, "invalid job specification: %v", err)
		}

		job, err := buildJob(pipeline, name, def, &spec)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if len(jobs) == 0 {
		return nil, malformed(pipeline, "", "pipeline defines no jobs")
	}

	return jobs, nil
}

// buildJob converts one decoded job specification into the domain model
func buildJob(pipeline, name string, def *domain.PipelineDefinition, spec *jobYAML) (*domain.JobDefinition, error) {
	job := &domain.JobDefinition{
		Name:         name,
		Stage:        spec.Stage,
		Script:       append([]string(nil), spec.Script...),
		Needs:        append([]string(nil), spec.Needs...),
		Tags:         append([]string(nil), spec.Tags...),
		Variables:    spec.Variables,
		AllowFailure: spec.AllowFailure,
	}

	if job.Stage == "" {
		job.Stage = defaultStage
	}
	if def.StageIndex(job.Stage) < 0 {
		return nil, malformed(pipeline, name, "stage %q is not declared", job.Stage)
	}

	if len(job.Script) == 0 {
		return nil, malformed(pipeline, name, "job has no script")
	}

	if err := validateVariables(pipeline, name, spec.Variables); err != nil {
		return nil, err
	}

	if spec.Timeout != "" {
		d, err := ParseHumanDuration(spec.Timeout)
		if err != nil {
			return nil, malformed(pipeline, name, "invalid timeout: %v", err)
		}
		if d <= 0 {
			return nil, malformed(pipeline, name, "timeout must be positive")
		}
		job.Timeout = d
	}

	if spec.Retry != nil {
		policy, err := buildRetry(pipeline, name, spec.Retry)
		if err != nil {
			return nil, err
		}
		job.Retry = policy
	}

	if spec.Artifacts != nil {
		decl, err := buildArtifacts(pipeline, name, spec.Artifacts)
		if err != nil {
			return nil, err
		}
		job.Artifacts = decl
	}

	if spec.Dependencies != nil {
		job.Dependencies = append([]string{}, (*spec.Dependencies)...)
	}

	if err := buildRunConditions(pipeline, name, spec, job); err != nil {
		return nil, err
	}

	return job, nil
}

// buildRunConditions resolves the job-level when and the rules list
func buildRunConditions(pipeline, name string, spec *jobYAML, job *domain.JobDefinition) error {
	var jobWhen domain.RunWhen
	if spec.When != "" {
		w, ok := validWhen[spec.When]
		if !ok {
			return malformed(pipeline, name, "invalid when value %q", spec.When)
		}
		jobWhen = w
	}

	if spec.StartIn != "" && jobWhen != domain.WhenDelayed {
		return malformed(pipeline, name, "start_in requires when: delayed")
	}

	if len(spec.Rules) == 0 {
		switch jobWhen {
		case "", domain.WhenOnSuccess:
			// on_success is the default; nothing to record
		case domain.WhenManual:
			job.Manual = true
		case domain.WhenDelayed:
			if spec.StartIn == "" {
				return malformed(pipeline, name, "when: delayed requires start_in")
			}
			startIn, err := ParseHumanDuration(spec.StartIn)
			if err != nil {
				return malformed(pipeline, name, "invalid start_in: %v", err)
			}
			if startIn <= 0 {
				return malformed(pipeline, name, "start_in must be positive")
			}
			job.Rules = []domain.Rule{{When: domain.WhenDelayed, StartIn: startIn}}
		default:
			job.Rules = []domain.Rule{{When: jobWhen}}
		}
		return nil
	}

	if jobWhen == domain.WhenDelayed {
		return malformed(pipeline, name, "use a rule-level when: delayed with start_in when rules are present")
	}

	defaultRuleWhen := domain.WhenOnSuccess
	if jobWhen != "" {
		defaultRuleWhen = jobWhen
	}

	for idx, r := range spec.Rules {
		rule := domain.Rule{
			If:           strings.TrimSpace(r.If),
			AllowFailure: r.AllowFailure,
		}

		if err := rules.CheckSyntax(rule.If); err != nil {
			return malformed(pipeline, name, "rule %d: invalid expression: %v", idx+1, err)
		}

		rule.When = defaultRuleWhen
		if r.When != "" {
			w, ok := validWhen[r.When]
			if !ok {
				return malformed(pipeline, name, "rule %d: invalid when value %q", idx+1, r.When)
			}
			rule.When = w
		}

		if rule.When == domain.WhenDelayed {
			if r.StartIn == "" {
				return malformed(pipeline, name, "rule %d: when: delayed requires start_in", idx+1)
			}
			startIn, err := ParseHumanDuration(r.StartIn)
			if err != nil {
				return malformed(pipeline, name, "rule %d: invalid start_in: %v", idx+1, err)
			}
			if startIn <= 0 {
				return malformed(pipeline, name, "rule %d: start_in must be positive", idx+1)
			}
			rule.StartIn = startIn
		} else if r.StartIn != "" {
			return malformed(pipeline, name, "rule %d: start_in requires when: delayed", idx+1)
		}

		job.Rules = append(job.Rules, rule)
	}

	return nil
}

// buildRetry validates a retry policy. "always" in the when list clears the
// kind filter.
func buildRetry(pipeline, name string, r *retryYAML) (domain.RetryPolicy, error) {
	if r.Max < 0 {
		return domain.RetryPolicy{}, malformed(pipeline, name, "retry max must not be negative")
	}

	policy := domain.RetryPolicy{Max: r.Max}

	anyKind := false
	var kinds []domain.FailureKind
	for _, w := range r.When {
		if w == "always" {
			anyKind = true
			continue
		}
		kind, ok := retryableKinds[w]
		if !ok {
			if w == string(domain.FailureMissingArtifact) {
				return domain.RetryPolicy{}, malformed(pipeline, name, "missing_artifact failures are not retryable")
			}
			return domain.RetryPolicy{}, malformed(pipeline, name, "invalid retry when value %q", w)
		}
		kinds = append(kinds, kind)
	}
	if !anyKind {
		policy.When = kinds
	}

	return policy, nil
}

// buildArtifacts validates an artifact declaration
func buildArtifacts(pipeline, name string, a *artifactsYAML) (domain.ArtifactDecl, error) {
	if len(a.Paths) == 0 {
		return domain.ArtifactDecl{}, malformed(pipeline, name, "artifacts requires at least one path")
	}
	for _, p := range a.Paths {
		if strings.TrimSpace(p) == "" {
			return domain.ArtifactDecl{}, malformed(pipeline, name, "empty artifact path")
		}
	}

	decl := domain.ArtifactDecl{
		Paths: append([]string(nil), a.Paths...),
		When:  domain.ArtifactOnSuccess,
	}

	if a.When != "" {
		w, ok := validArtifactWhen[a.When]
		if !ok {
			return domain.ArtifactDecl{}, malformed(pipeline, name, "invalid artifacts when value %q", a.When)
		}
		decl.When = w
	}

	if a.ExpireIn != "" {
		expireIn, err := ParseExpiry(a.ExpireIn)
		if err != nil {
			return domain.ArtifactDecl{}, malformed(pipeline, name, "invalid expire_in: %v", err)
		}
		decl.ExpireIn = expireIn
	}

	return decl, nil
}

// validateVariables rejects variable names rule expressions cannot reference
func validateVariables(pipeline, job string, vars map[string]string) error {
	for k := range vars {
		if !rules.ValidVariableName(k) {
			return malformed(pipeline, job, "invalid variable name %q", k)
		}
	}
	return nil
}

// validateReferences checks needs and dependencies targets across the whole
// definition
func validateReferences(pipeline string, def *domain.PipelineDefinition) error {
	for _, job := range def.Jobs {
		for _, need := range job.Needs {
			if need == job.Name {
				return malformed(pipeline, job.Name, "job cannot need itself")
			}
			if def.Job(need) == nil {
				return malformed(pipeline, job.Name, "needs unknown job %q", need)
			}
		}

		if job.Dependencies == nil {
			continue
		}

		preds := def.Predecessors(job)
		for _, dep := range job.Dependencies {
			if dep == job.Name {
				return malformed(pipeline, job.Name, "job cannot depend on its own artifacts")
			}
			target := def.Job(dep)
			if target == nil {
				return malformed(pipeline, job.Name, "dependencies names unknown job %q", dep)
			}
			if !target.HasArtifacts() {
				return malformed(pipeline, job.Name, "dependency %q declares no artifacts", dep)
			}
			if !contains(preds, dep) {
				return malformed(pipeline, job.Name, "dependency %q is not a predecessor", dep)
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
