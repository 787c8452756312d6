package domain

import (
	"testing"
	"time"
)

func TestPipelineLookups(t *testing.T) {
	def := &PipelineDefinition{
		Name:   "release",
		Stages: []string{"build", "test", "deploy"},
		Jobs: []*JobDefinition{
			{Name: "compile", Stage: "build"},
			{Name: "unit", Stage: "test"},
			{Name: "integration", Stage: "test"},
			{Name: "ship", Stage: "deploy"},
		},
	}

	if def.Job("unit") == nil {
		t.Error("expected to find job unit")
	}
	if def.Job("missing") != nil {
		t.Error("expected nil for unknown job")
	}

	if idx := def.StageIndex("test"); idx != 1 {
		t.Errorf("expected stage index 1, got %d", idx)
	}
	if idx := def.StageIndex("missing"); idx != -1 {
		t.Errorf("expected -1 for unknown stage, got %d", idx)
	}

	testJobs := def.JobsInStage("test")
	if len(testJobs) != 2 {
		t.Fatalf("expected 2 jobs in test stage, got %d", len(testJobs))
	}
	if testJobs[0].Name != "unit" || testJobs[1].Name != "integration" {
		t.Error("expected jobs in definition order")
	}
}

func TestConstantlySkipped(t *testing.T) {
	tests := []struct {
		name    string
		rules   []Rule
		skipped bool
	}{
		{
			name:    "no rules",
			rules:   nil,
			skipped: false,
		},
		{
			name:    "single never",
			rules:   []Rule{{When: WhenNever}},
			skipped: true,
		},
		{
			name:    "conditional never only",
			rules:   []Rule{{If: `$SKIP == "true"`, When: WhenNever}},
			skipped: true,
		},
		{
			name: "never then on_success",
			rules: []Rule{
				{If: `$SKIP == "true"`, When: WhenNever},
				{When: WhenOnSuccess},
			},
			skipped: false,
		},
		{
			name:    "manual rule",
			rules:   []Rule{{When: WhenManual}},
			skipped: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &JobDefinition{Name: "gate", Rules: tt.rules}
			if got := job.ConstantlySkipped(); got != tt.skipped {
				t.Errorf("ConstantlySkipped() = %v, want %v", got, tt.skipped)
			}
		})
	}
}

func TestEffectiveWhen(t *testing.T) {
	auto := &JobDefinition{Name: "build"}
	if auto.EffectiveWhen() != WhenOnSuccess {
		t.Errorf("expected on_success default, got %s", auto.EffectiveWhen())
	}

	manual := &JobDefinition{Name: "deploy", Manual: true}
	if manual.EffectiveWhen() != WhenManual {
		t.Errorf("expected manual, got %s", manual.EffectiveWhen())
	}
}

func TestRetryPolicyAllows(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		kind    FailureKind
		allowed bool
	}{
		{
			name:    "empty filter allows script failure",
			policy:  RetryPolicy{Max: 2},
			kind:    FailureScript,
			allowed: true,
		},
		{
			name:    "empty filter allows worker lost",
			policy:  RetryPolicy{Max: 2},
			kind:    FailureWorkerLost,
			allowed: true,
		},
		{
			name:    "filter matches",
			policy:  RetryPolicy{Max: 1, When: []FailureKind{FailureWorkerLost, FailureTimeout}},
			kind:    FailureTimeout,
			allowed: true,
		},
		{
			name:    "filter excludes",
			policy:  RetryPolicy{Max: 1, When: []FailureKind{FailureWorkerLost}},
			kind:    FailureScript,
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Allows(tt.kind); got != tt.allowed {
				t.Errorf("Allows(%s) = %v, want %v", tt.kind, got, tt.allowed)
			}
		})
	}
}

func TestPredecessors(t *testing.T) {
	def := &PipelineDefinition{
		Name:   "release",
		Stages: []string{"prep", "build", "verify", "deploy"},
		Jobs: []*JobDefinition{
			{Name: "compile", Stage: "build"},
			{Name: "package", Stage: "build"},
			{Name: "unit", Stage: "verify"},
			{Name: "ship", Stage: "deploy", Needs: []string{"unit"}},
			{Name: "announce", Stage: "deploy"},
		},
	}

	tests := []struct {
		name string
		job  string
		want []string
	}{
		{"empty leading stage is skipped", "compile", nil},
		{"stage implies previous stage", "unit", []string{"compile", "package"}},
		{"needs replace the stage dependency", "ship", []string{"unit"}},
		{"sibling needs do not affect the stage rule", "announce", []string{"unit"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := def.Predecessors(def.Job(tt.job))
			if len(got) != len(tt.want) {
				t.Fatalf("Predecessors(%s) = %v, want %v", tt.job, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Predecessors(%s) = %v, want %v", tt.job, got, tt.want)
				}
			}
		})
	}
}

func TestHasArtifacts(t *testing.T) {
	plain := &JobDefinition{Name: "lint"}
	if plain.HasArtifacts() {
		t.Error("job without paths must not report artifacts")
	}

	producer := &JobDefinition{
		Name: "build",
		Artifacts: ArtifactDecl{
			Paths:    []string{"dist/"},
			ExpireIn: 24 * time.Hour,
		},
	}
	if !producer.HasArtifacts() {
		t.Error("job with paths must report artifacts")
	}
}
