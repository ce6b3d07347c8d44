package models

import "time"

// SessionStatus is the lifecycle state of an interaction session
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// SessionHistory records one choice made on a node
type SessionHistory struct {
	NodeID          string    `json:"nodeId"`
	ChoiceID        string    `json:"choiceId"`
	Timestamp       time.Time `json:"timestamp"`
	Narrative       string    `json:"narrative"`
	SelectedChoice  string    `json:"selectedChoice"`
	Consequences    string    `json:"consequences,omitempty"`
	ResultingNodeID string    `json:"resultingNodeId,omitempty"`
}

// InteractionSession is one traversal through a storyline
type InteractionSession struct {
	ID             string           `json:"id"`
	WorldID        string           `json:"worldId"`
	StorylineID    string           `json:"storylineId"`
	Status         SessionStatus    `json:"status"`
	CurrentNode    *StoryNode       `json:"currentNode"`
	History        []SessionHistory `json:"history"`
	VisitedNodes   []string         `json:"visitedNodes"`
	StartTime      time.Time        `json:"startTime"`
	LastUpdateTime time.Time        `json:"lastUpdateTime"`
}

// HasVisited reports whether the node id is in the visited set
func (s *InteractionSession) HasVisited(nodeID string) bool {
	for _, id := range s.VisitedNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// MarkVisited adds the id to the visited set, keeping first-visit order
func (s *InteractionSession) MarkVisited(nodeID string) {
	if !s.HasVisited(nodeID) {
		s.VisitedNodes = append(s.VisitedNodes, nodeID)
	}
}

// Clone returns a deep copy of the session
func (s *InteractionSession) Clone() *InteractionSession {
	if s == nil {
		return nil
	}
	out := *s
	out.CurrentNode = s.CurrentNode.Clone()
	out.History = append([]SessionHistory(nil), s.History...)
	out.VisitedNodes = append([]string(nil), s.VisitedNodes...)
	return &out
}

// NodeCacheEntry is the side-table record of a node that was current
type NodeCacheEntry struct {
	Node      *StoryNode `json:"node"`
	VisitedAt time.Time  `json:"visitedAt"`
	SceneName string     `json:"sceneName,omitempty"`
}

// SessionStats is derived from the session without side effects
type SessionStats struct {
	TotalNodesVisited int           `json:"totalNodesVisited"`
	TotalChoicesMade  int           `json:"totalChoicesMade"`
	SessionDuration   time.Duration `json:"sessionDuration"`
	UniquePaths       int           `json:"uniquePaths"`
}

// SelectedChoice is the choice text shown next to a path entry
type SelectedChoice struct {
	Text         string `json:"text"`
	Consequences string `json:"consequences,omitempty"`
}

// StoryPathEntry is one step of the path the user actually took
type StoryPathEntry struct {
	NodeID         string          `json:"nodeId"`
	SceneName      string          `json:"sceneName,omitempty"`
	Narrative      string          `json:"narrative"`
	SelectedChoice *SelectedChoice `json:"selectedChoice"`
	Timestamp      time.Time       `json:"timestamp"`
}
