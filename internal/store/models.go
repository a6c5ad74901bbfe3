package store

import "time"

// Chunk is a span of extracted document text plus metadata. UserID is the
// owning tenant; it is also mirrored into Metadata["user_id"].
type Chunk struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
}

// Source returns the "source" metadata value (filename or URL), if any.
func (c Chunk) Source() string {
	if c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata["source"].(string)
	return s
}

type ChatRecord struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_email"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}
