package domain

import "testing"

func TestHasIssues(t *testing.T) {
	if (Verdict{}).HasIssues() {
		t.Fatalf("expected empty verdict to report no issues")
	}
	if (Verdict{DetectedIssues: []string{}}).HasIssues() {
		t.Fatalf("expected empty issue list to report no issues")
	}
	if !(Verdict{DetectedIssues: []string{"db-failure"}}).HasIssues() {
		t.Fatalf("expected verdict with issues to report true")
	}
}

func TestScenarioDescriptionsCoverTaxonomy(t *testing.T) {
	for _, tag := range FailureScenarios {
		if ScenarioDescriptions[tag] == "" {
			t.Fatalf("scenario %s has no description", tag)
		}
	}
	if len(ScenarioDescriptions) != len(FailureScenarios) {
		t.Fatalf("description map has %d entries, taxonomy has %d", len(ScenarioDescriptions), len(FailureScenarios))
	}
}
