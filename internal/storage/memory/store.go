package memory

import (
	"context"
	"sort"
	"sync"

	"topic_syncer/internal/domain"
)

type topicKey struct {
	category string
	url      string
}

type topicRow struct {
	id    int64
	topic domain.Topic
}

// Store is an in-process content store with the same semantics as the
// Postgres one. Values are copied in and out so callers never share state.
type Store struct {
	mu         sync.RWMutex
	categories map[string]domain.Category
	topics     map[topicKey]topicRow
	cursors    map[string]domain.SyncCursor
	nextID     int64
}

func New() *Store {
	return &Store{
		categories: make(map[string]domain.Category),
		topics:     make(map[topicKey]topicRow),
		cursors:    make(map[string]domain.SyncCursor),
	}
}

func (s *Store) UpsertCategory(ctx context.Context, category *domain.Category) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapStorage("upsert category", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.categories[category.Name] = *category
	return nil
}

func (s *Store) AllCategories(ctx context.Context) ([]domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapStorage("select categories", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapStorage("select category", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[name]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) UpsertTopic(ctx context.Context, topic *domain.Topic) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.WrapStorage("upsert topic", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := topicKey{category: topic.Category, url: topic.URL}
	row, exists := s.topics[key]
	if !exists {
		s.nextID++
		row.id = s.nextID
	}
	row.topic = *topic
	s.topics[key] = row

	return !exists, nil
}

// TopTopics orders like the SQL store: latest ingest first, then listing position.
func (s *Store) TopTopics(ctx context.Context, category string, limit int) ([]domain.Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapStorage("select topics", err)
	}

	s.mu.RLock()
	rows := make([]topicRow, 0)
	for key, row := range s.topics {
		if key.category == category {
			rows = append(rows, row)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.topic.SyncedAt.Equal(b.topic.SyncedAt) {
			return a.topic.SyncedAt.After(b.topic.SyncedAt)
		}
		if a.topic.Position != b.topic.Position {
			return a.topic.Position < b.topic.Position
		}
		return a.id < b.id
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]domain.Topic, len(rows))
	for i, row := range rows {
		out[i] = row.topic
	}
	return out, nil
}

func (s *Store) CursorFor(ctx context.Context, category string) (*domain.SyncCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapStorage("select cursor", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[category]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// UpsertCursor ignores writes older than the stored cursor.
func (s *Store) UpsertCursor(ctx context.Context, cursor *domain.SyncCursor) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapStorage("upsert cursor", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cursors[cursor.Category]; ok && existing.LastSyncedAt.After(cursor.LastSyncedAt) {
		return nil
	}
	s.cursors[cursor.Category] = *cursor
	return nil
}

// WithTransaction runs fn and restores the category set if it fails.
// Only discovery uses transactions, and it only writes categories.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.RLock()
	snapshot := make(map[string]domain.Category, len(s.categories))
	for k, v := range s.categories {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.categories = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}
