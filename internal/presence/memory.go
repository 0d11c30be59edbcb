package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps presence in process. It is used when no Redis server
// is configured.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	rooms map[string]map[string]struct{}
	users map[string]int
	codes map[string]codeEntry
}

type codeEntry struct {
	roomID  string
	expires time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:   time.Now,
		rooms: make(map[string]map[string]struct{}),
		users: make(map[string]int),
		codes: make(map[string]codeEntry),
	}
}

func (s *MemoryStore) AddRoomPeer(_ context.Context, roomID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers, ok := s.rooms[roomID]
	if !ok {
		peers = make(map[string]struct{})
		s.rooms[roomID] = peers
	}
	peers[peerID] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveRoomPeer(_ context.Context, roomID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := s.rooms[roomID]
	delete(peers, peerID)
	if len(peers) == 0 {
		delete(s.rooms, roomID)
	}
	return nil
}

func (s *MemoryStore) RoomPeerCount(_ context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[roomID]), nil
}

func (s *MemoryStore) Rooms(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms, nil
}

// AddChatUser counts registrations so two connections using one name
// stay listed until both leave.
func (s *MemoryStore) AddChatUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username]++
	return nil
}

func (s *MemoryStore) RemoveChatUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[username] <= 1 {
		delete(s.users, username)
	} else {
		s.users[username]--
	}
	return nil
}

func (s *MemoryStore) ChatUsers(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.users))
	for name := range s.users {
		users = append(users, name)
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) SaveRoomCode(_ context.Context, code, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.codes[code]; ok && s.now().Before(entry.expires) {
		return fmt.Errorf("room code %s already in use", code)
	}
	s.codes[code] = codeEntry{roomID: roomID, expires: s.now().Add(RoomTTL)}
	return nil
}

func (s *MemoryStore) ResolveRoomCode(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.codes[code]
	if !ok || !s.now().Before(entry.expires) {
		delete(s.codes, code)
		return "", ErrNotFound
	}
	return entry.roomID, nil
}

func (s *MemoryStore) Close() error { return nil }
