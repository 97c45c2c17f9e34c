package util

// Set holds unique comparable values, such as the statuses a transition
// table allows or the connected websocket clients
type Set[K comparable] map[K]struct{}

// SetOf returns a set of the given elements
func SetOf[K comparable](elements ...K) Set[K] {
	s := make(Set[K], len(elements))
	for _, elem := range elements {
		s.Add(elem)
	}
	return s
}

// Add inserts key, if not already present
func (s Set[K]) Add(key K) {
	s[key] = struct{}{}
}

// Remove deletes key, if present
func (s Set[K]) Remove(key K) {
	delete(s, key)
}

// Contains reports whether key is in the set
func (s Set[K]) Contains(key K) bool {
	_, ok := s[key]
	return ok
}

// IsEmpty reports whether the set has no elements
func (s Set[K]) IsEmpty() bool {
	return len(s) == 0
}
