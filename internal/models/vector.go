package models

// VectorItem is one embedded text stored for semantic retrieval
type VectorItem struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float64      `json:"embedding"`
	Metadata  VectorMetadata `json:"metadata"`
}

// VectorMetadata is the metadata bag of a vector item.
// Timestamp is unix milliseconds so the timestamp index sorts naturally.
type VectorMetadata struct {
	Timestamp       int64  `json:"timestamp"`
	Type            string `json:"type,omitempty"` // "world" | "character" | "node"
	IsPlotTwist     bool   `json:"isPlotTwist,omitempty"`
	PlotTwistReason string `json:"plotTwistReason,omitempty"`
	NodeID          string `json:"nodeId,omitempty"`
	CharacterID     string `json:"characterId,omitempty"`
	WorldID         string `json:"worldId,omitempty"`
	Emotion         string `json:"emotion,omitempty"`
}
