package transcript

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

type memoryStore struct {
	mu       sync.RWMutex
	meetings map[string]Meeting
	segments []Segment
	nextID   int
}

// NewMemory builds a process-local store.
func NewMemory() Store {
	return &memoryStore{meetings: make(map[string]Meeting)}
}

func (s *memoryStore) SaveMeeting(_ context.Context, m Meeting) error {
	s.mu.Lock()
	s.meetings[m.ID] = cloneMeeting(m)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetMeeting(_ context.Context, id string) (Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return Meeting{}, ErrNotFound
	}
	return cloneMeeting(m), nil
}

func (s *memoryStore) ListMeetings(_ context.Context, clientID string) ([]Meeting, error) {
	s.mu.RLock()
	out := make([]Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		if clientID == "" || m.ClientID == clientID {
			out = append(out, cloneMeeting(m))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *memoryStore) AppendSegment(_ context.Context, seg Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	seg.ID = strconv.Itoa(s.nextID)
	s.segments = append(s.segments, seg)
	return nil
}

func (s *memoryStore) ListSegments(_ context.Context, q Query) ([]Segment, error) {
	s.mu.RLock()
	out := make([]Segment, 0)
	for _, seg := range s.segments {
		if q.match(seg) {
			out = append(out, seg)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return tail(out, q.Limit), nil
}

func (s *memoryStore) Stats(context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"type":     DriverMemory,
		"meetings": len(s.meetings),
		"segments": len(s.segments),
	}, nil
}

func (s *memoryStore) Close(context.Context) error { return nil }

func cloneMeeting(m Meeting) Meeting {
	if m.Metadata != nil {
		meta := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = v
		}
		m.Metadata = meta
	}
	if m.EndedAt != nil {
		ended := *m.EndedAt
		m.EndedAt = &ended
	}
	return m
}
