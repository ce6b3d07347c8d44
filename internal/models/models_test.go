package models

import (
	"testing"
	"time"
)

func TestStoryNodeCloneIsDeep(t *testing.T) {
	orig := &StoryNode{
		ID:      "n1",
		Content: NodeContent{Narrative: "x", SSMLActions: []SSMLAction{{Type: "ka", Action: "Think"}}},
		Choices: []StoryChoice{{ID: "c1", Text: "go"}},
	}
	cp := orig.Clone()
	cp.Choices[0].Text = "changed"
	cp.Content.SSMLActions[0].Action = "Welcome"

	if orig.Choices[0].Text != "go" {
		t.Errorf("clone shares choices with original")
	}
	if orig.Content.SSMLActions[0].Action != "Think" {
		t.Errorf("clone shares ssml actions with original")
	}
}

func TestSessionMarkVisitedKeepsOrderAndUniqueness(t *testing.T) {
	s := &InteractionSession{}
	s.MarkVisited("a")
	s.MarkVisited("b")
	s.MarkVisited("a")

	if len(s.VisitedNodes) != 2 || s.VisitedNodes[0] != "a" || s.VisitedNodes[1] != "b" {
		t.Errorf("VisitedNodes = %v, want [a b]", s.VisitedNodes)
	}
}

func TestNewSessionArchive(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &InteractionSession{
		ID:             "s1",
		WorldID:        "magic-kingdom",
		StorylineID:    "storyline-1",
		Status:         SessionCompleted,
		CurrentNode:    &StoryNode{ID: "n2"},
		VisitedNodes:   []string{"n1", "n2"},
		History:        []SessionHistory{{NodeID: "n1", ChoiceID: "c1", SelectedChoice: "go", ResultingNodeID: "n2"}},
		StartTime:      start,
		LastUpdateTime: start.Add(90 * time.Second),
	}

	archive, records := NewSessionArchive(s, "{}", start.Add(2*time.Minute))
	if archive.TotalNodes != 2 || archive.TotalChoices != 1 {
		t.Errorf("archive counts = %d/%d, want 2/1", archive.TotalNodes, archive.TotalChoices)
	}
	if archive.PlayDurationMs != 90000 {
		t.Errorf("PlayDurationMs = %d, want 90000", archive.PlayDurationMs)
	}
	if archive.CurrentNodeID != "n2" {
		t.Errorf("CurrentNodeID = %q, want n2", archive.CurrentNodeID)
	}
	if len(records) != 1 || records[0].ResultingNodeID != "n2" || records[0].ChoiceText != "go" {
		t.Errorf("records = %+v", records)
	}
}
