package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionArchive is a completed session kept for later export
type SessionArchive struct {
	ID             string         `gorm:"primaryKey;size:64" json:"id"`
	WorldID        string         `gorm:"index;size:64" json:"world_id"`
	StorylineID    string         `gorm:"size:64" json:"storyline_id"`
	Status         string         `gorm:"size:32" json:"status"` // "completed"
	CurrentNodeID  string         `gorm:"size:64" json:"current_node_id"`
	TotalNodes     int            `json:"total_nodes"`
	TotalChoices   int            `json:"total_choices"`
	PlayDurationMs int64          `json:"play_duration_ms"`
	JSONSession    string         `gorm:"type:longtext" json:"-"` // Serialized InteractionSession
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// ChoiceRecord is one history entry of an archived session
type ChoiceRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID       string    `gorm:"index;size:64" json:"session_id"`
	Seq             int       `json:"seq"`
	NodeID          string    `gorm:"size:64" json:"node_id"`
	ChoiceID        string    `gorm:"size:128" json:"choice_id"`
	ChoiceText      string    `gorm:"type:text" json:"choice_text"`
	ResultingNodeID string    `gorm:"size:64" json:"resulting_node_id"`
	ChosenAt        time.Time `json:"chosen_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExportRecord remembers that a session was exported
type ExportRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"index;size:64" json:"session_id"`
	Format    string    `gorm:"size:16" json:"format"` // "txt", "markdown", "json"
	Filename  string    `gorm:"size:255" json:"filename"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionArchive flattens a session into archive rows
func NewSessionArchive(s *InteractionSession, serialized string, endedAt time.Time) (*SessionArchive, []ChoiceRecord) {
	archive := &SessionArchive{
		ID:             s.ID,
		WorldID:        s.WorldID,
		StorylineID:    s.StorylineID,
		Status:         string(s.Status),
		TotalNodes:     len(s.VisitedNodes),
		TotalChoices:   len(s.History),
		PlayDurationMs: s.LastUpdateTime.Sub(s.StartTime).Milliseconds(),
		JSONSession:    serialized,
		StartedAt:      s.StartTime,
		EndedAt:        endedAt,
	}
	if s.CurrentNode != nil {
		archive.CurrentNodeID = s.CurrentNode.ID
	}

	records := make([]ChoiceRecord, 0, len(s.History))
	for i, h := range s.History {
		records = append(records, ChoiceRecord{
			SessionID:       s.ID,
			Seq:             i,
			NodeID:          h.NodeID,
			ChoiceID:        h.ChoiceID,
			ChoiceText:      h.SelectedChoice,
			ResultingNodeID: h.ResultingNodeID,
			ChosenAt:        h.Timestamp,
		})
	}
	return archive, records
}
