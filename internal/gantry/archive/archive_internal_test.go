package archive

import (
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gantryci/gantry/internal/gantry/domain"
)

func TestSummarizeCountsJobOutcomes(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	finished := started.Add(4 * time.Minute)

	run := &domain.PipelineRun{
		ID: "run-77",
		Pipeline: &domain.PipelineDefinition{
			Name:   "web",
			Stages: []string{"build", "test"},
			Jobs: []*domain.JobDefinition{
				{Name: "compile", Stage: "build"},
				{Name: "unit", Stage: "test"},
				{Name: "lint", Stage: "test"},
				{Name: "docs", Stage: "test"},
			},
		},
		Trigger:    domain.TriggerContext{Ref: "main", Source: "api"},
		State:      domain.RunFailed,
		CreatedAt:  started.Add(-time.Minute),
		StartedAt:  &started,
		FinishedAt: &finished,
		Jobs: map[string]*domain.JobRun{
			"compile": {Name: "compile", State: domain.JobSuccess},
			"unit":    {Name: "unit", State: domain.JobFailed, FailureKind: domain.FailureScript},
			"lint":    {Name: "lint", State: domain.JobFailed, FailureKind: domain.FailureTimeout},
			"docs":    {Name: "docs", State: domain.JobSkipped},
		},
	}

	rec := Summarize(run)

	if rec.RunID != "run-77" {
		t.Errorf("RunID = %s, want run-77", rec.RunID)
	}
	if rec.Pipeline != "web" {
		t.Errorf("Pipeline = %s, want web", rec.Pipeline)
	}
	if rec.Ref != "main" || rec.Source != "api" {
		t.Errorf("trigger = %s/%s, want main/api", rec.Ref, rec.Source)
	}
	if rec.State != string(domain.RunFailed) {
		t.Errorf("State = %s, want %s", rec.State, domain.RunFailed)
	}
	if !rec.StartedAt.Equal(started) || !rec.FinishedAt.Equal(finished) {
		t.Errorf("timestamps = %v/%v, want %v/%v", rec.StartedAt, rec.FinishedAt, started, finished)
	}
	if rec.JobsTotal != 4 || rec.JobsSucceeded != 1 || rec.JobsFailed != 2 || rec.JobsSkipped != 1 {
		t.Errorf("counters = %d/%d/%d/%d, want 4/1/2/1",
			rec.JobsTotal, rec.JobsSucceeded, rec.JobsFailed, rec.JobsSkipped)
	}

	// Failures follow definition order, not map order
	want := "unit: script_failure; lint: timeout"
	if rec.FailureSummary != want {
		t.Errorf("FailureSummary = %q, want %q", rec.FailureSummary, want)
	}
}

func TestSummarizeRunThatNeverStarted(t *testing.T) {
	finished := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	run := &domain.PipelineRun{
		ID: "run-78",
		Pipeline: &domain.PipelineDefinition{
			Name: "web",
			Jobs: []*domain.JobDefinition{{Name: "compile", Stage: "build"}},
		},
		State:      domain.RunCanceled,
		CreatedAt:  finished.Add(-time.Second),
		FinishedAt: &finished,
		Jobs: map[string]*domain.JobRun{
			"compile": {Name: "compile", State: domain.JobCanceled},
		},
	}

	rec := Summarize(run)

	if !rec.StartedAt.IsZero() {
		t.Errorf("StartedAt = %v, want zero", rec.StartedAt)
	}
	if rec.JobsTotal != 1 || rec.JobsSucceeded != 0 || rec.JobsFailed != 0 {
		t.Errorf("counters = %d/%d/%d, want 1/0/0", rec.JobsTotal, rec.JobsSucceeded, rec.JobsFailed)
	}
	if rec.FailureSummary != "" {
		t.Errorf("FailureSummary = %q, want empty", rec.FailureSummary)
	}
}

func TestRecordToItemBasicFields(t *testing.T) {
	created := time.Date(2026, 3, 14, 8, 59, 0, 0, time.UTC)
	finished := created.Add(5 * time.Minute)

	rec := &RunRecord{
		RunID:          "run-1",
		Pipeline:       "web",
		Ref:            "main",
		Source:         "api",
		State:          "FAILED",
		CreatedAt:      created,
		FinishedAt:     finished,
		JobsTotal:      3,
		JobsFailed:     1,
		FailureSummary: "unit: script_failure",
	}

	item := recordToItem(rec, "expiresAt", 0)

	if v, ok := item["runId"].(*types.AttributeValueMemberS); !ok || v.Value != "run-1" {
		t.Error("expected runId to be set correctly")
	}
	if v, ok := item["pipeline"].(*types.AttributeValueMemberS); !ok || v.Value != "web" {
		t.Error("expected pipeline to be set correctly")
	}
	if v, ok := item["runState"].(*types.AttributeValueMemberS); !ok || v.Value != "FAILED" {
		t.Error("expected runState to be FAILED")
	}
	if v, ok := item["jobsTotal"].(*types.AttributeValueMemberN); !ok || v.Value != "3" {
		t.Error("expected jobsTotal to be 3")
	}
	if v, ok := item["jobsFailed"].(*types.AttributeValueMemberN); !ok || v.Value != "1" {
		t.Error("expected jobsFailed to be 1")
	}
	if _, ok := item["jobsSucceeded"]; ok {
		t.Error("expected zero counter to be omitted")
	}
	if _, ok := item["startedAt"]; ok {
		t.Error("expected zero startedAt to be omitted")
	}

	if v, ok := item["createdAt"].(*types.AttributeValueMemberS); !ok {
		t.Error("expected createdAt to be set")
	} else {
		parsed, err := time.Parse(time.RFC3339, v.Value)
		if err != nil {
			t.Errorf("failed to parse createdAt: %v", err)
		}
		if !parsed.Equal(created) {
			t.Errorf("createdAt = %v, want %v", parsed, created)
		}
	}
}

func TestRecordToItemTTL(t *testing.T) {
	rec := &RunRecord{RunID: "run-1", Pipeline: "web", State: "SUCCESS"}

	// TTL enabled
	item := recordToItem(rec, "expiresAt", 30)
	ttl, ok := item["expiresAt"].(*types.AttributeValueMemberN)
	if !ok {
		t.Fatal("expected expiresAt TTL to be set")
	}
	unix, err := strconv.ParseInt(ttl.Value, 10, 64)
	if err != nil {
		t.Fatalf("failed to parse TTL value %q: %v", ttl.Value, err)
	}
	want := time.Now().Add(30 * 24 * time.Hour).Unix()
	if unix < want-60 || unix > want+60 {
		t.Errorf("TTL = %d, want about %d", unix, want)
	}

	// Custom attribute name
	item2 := recordToItem(rec, "purgeAfter", 30)
	if _, ok := item2["purgeAfter"]; !ok {
		t.Error("expected TTL under the configured attribute name")
	}

	// TTL disabled
	item3 := recordToItem(rec, "expiresAt", 0)
	if _, ok := item3["expiresAt"]; ok {
		t.Error("expected no TTL when ttlDays=0")
	}
}

func TestItemToRecord(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	item := map[string]types.AttributeValue{
		"runId":          &types.AttributeValueMemberS{Value: "run-9"},
		"pipeline":       &types.AttributeValueMemberS{Value: "web"},
		"runState":       &types.AttributeValueMemberS{Value: "FAILED"},
		"ref":            &types.AttributeValueMemberS{Value: "main"},
		"source":         &types.AttributeValueMemberS{Value: "schedule"},
		"createdAt":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"startedAt":      &types.AttributeValueMemberS{Value: now.Add(time.Second).Format(time.RFC3339)},
		"finishedAt":     &types.AttributeValueMemberS{Value: now.Add(time.Minute).Format(time.RFC3339)},
		"jobsTotal":      &types.AttributeValueMemberN{Value: "5"},
		"jobsSucceeded":  &types.AttributeValueMemberN{Value: "3"},
		"jobsFailed":     &types.AttributeValueMemberN{Value: "1"},
		"jobsSkipped":    &types.AttributeValueMemberN{Value: "1"},
		"failureSummary": &types.AttributeValueMemberS{Value: "deploy: worker_lost"},
	}

	rec, err := itemToRecord(item)
	if err != nil {
		t.Fatalf("itemToRecord() error = %v", err)
	}

	if rec.RunID != "run-9" || rec.Pipeline != "web" || rec.State != "FAILED" {
		t.Errorf("identity = %s/%s/%s, want run-9/web/FAILED", rec.RunID, rec.Pipeline, rec.State)
	}
	if rec.Ref != "main" || rec.Source != "schedule" {
		t.Errorf("trigger = %s/%s, want main/schedule", rec.Ref, rec.Source)
	}
	if rec.JobsTotal != 5 || rec.JobsSucceeded != 3 || rec.JobsFailed != 1 || rec.JobsSkipped != 1 {
		t.Errorf("counters = %d/%d/%d/%d, want 5/3/1/1",
			rec.JobsTotal, rec.JobsSucceeded, rec.JobsFailed, rec.JobsSkipped)
	}
	if rec.FailureSummary != "deploy: worker_lost" {
		t.Errorf("FailureSummary = %q", rec.FailureSummary)
	}
	if rec.CreatedAt.IsZero() || rec.StartedAt.IsZero() || rec.FinishedAt.IsZero() {
		t.Error("expected all timestamps to be parsed")
	}
}

func TestItemToRecordMinimalFields(t *testing.T) {
	item := map[string]types.AttributeValue{
		"runId":     &types.AttributeValueMemberS{Value: "run-min"},
		"pipeline":  &types.AttributeValueMemberS{Value: "web"},
		"runState":  &types.AttributeValueMemberS{Value: "SUCCESS"},
		"jobsTotal": &types.AttributeValueMemberN{Value: "1"},
	}

	rec, err := itemToRecord(item)
	if err != nil {
		t.Fatalf("itemToRecord() error = %v", err)
	}

	if rec.JobsSucceeded != 0 || rec.JobsFailed != 0 {
		t.Errorf("expected absent counters to read as zero, got %d/%d", rec.JobsSucceeded, rec.JobsFailed)
	}
	if !rec.StartedAt.IsZero() {
		t.Error("expected absent startedAt to stay zero")
	}
}

func TestItemToRecordMissingRunID(t *testing.T) {
	item := map[string]types.AttributeValue{
		"pipeline": &types.AttributeValueMemberS{Value: "web"},
	}

	if _, err := itemToRecord(item); err == nil {
		t.Error("expected error for item without runId")
	}
}
