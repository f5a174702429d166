package domain

import "time"

// SyncCursor remembers the newest topic seen for a category.
type SyncCursor struct {
	Category          string    `db:"category"`
	LastSeenTopicName string    `db:"last_seen_topic_name"`
	LastSyncedAt      time.Time `db:"last_synced_at"`
}

// Outcome is the result of probing one category in a poll cycle.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeEmpty     Outcome = "empty"
	OutcomeIngested  Outcome = "ingested"
	OutcomeFailed    Outcome = "failed"
)

// SyncStats holds statistics about a poll cycle.
type SyncStats struct {
	Categories    int
	Unchanged     int
	Empty         int
	Ingested      int
	Failed        int
	TopicsFetched int
	TopicsWritten int
	TopicsCreated int
	Published     int
	PublishErrors int
	Duration      time.Duration
}

func (s *SyncStats) Record(o Outcome) {
	switch o {
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeEmpty:
		s.Empty++
	case OutcomeIngested:
		s.Ingested++
	case OutcomeFailed:
		s.Failed++
	}
}
