package account

// Store exposes the local account directory to the auth service.
type Store interface {
	List() []User
	FindByID(id string) (User, bool)
	FindByLogin(login string) (User, bool)
}

// MemoryStore implements Store over a fixed slice loaded at start-up.
type MemoryStore struct {
	items []User
}

// NewMemoryStore returns a MemoryStore holding a copy of items.
func NewMemoryStore(items []User) *MemoryStore {
	return &MemoryStore{items: append([]User(nil), items...)}
}

// List returns every account.
func (s *MemoryStore) List() []User {
	return append([]User(nil), s.items...)
}

// FindByID looks an account up by identifier.
func (s *MemoryStore) FindByID(id string) (User, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return User{}, false
}

// FindByLogin looks an account up by username or email, ignoring case.
func (s *MemoryStore) FindByLogin(login string) (User, bool) {
	for _, item := range s.items {
		if item.MatchesLogin(login) {
			return item, true
		}
	}
	return User{}, false
}
