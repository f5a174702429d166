package domain

import "time"

const (
	NoDescription = "No description"
	NoLink        = "No link"

	// NoTopicBody is returned by the origin when a topic page has no content region.
	NoTopicBody = "No topic body available"
	// NoSummary is stored for topics whose body is NoTopicBody.
	NoSummary = "No summary available"
	// SummaryUnavailable is the summarizer's placeholder on any failure.
	SummaryUnavailable = "Summary not available."
)

type Category struct {
	Name        string `db:"name" json:"name"`
	ListingURL  string `db:"listing_url" json:"listing_url"`
	Description string `db:"description" json:"description"`
}

// TopicRef is a topic as listed on a category page, before its body is fetched.
type TopicRef struct {
	Name string
	URL  string
}

type Topic struct {
	Category string    `db:"category" json:"category"`
	Name     string    `db:"name" json:"name"`
	URL      string    `db:"topic_url" json:"url"`
	Body     string    `db:"body_text" json:"body"`
	Summary  string    `db:"summary" json:"summary"`
	Position int       `db:"position" json:"position"`
	SyncedAt time.Time `db:"synced_at" json:"synced_at"`
}
