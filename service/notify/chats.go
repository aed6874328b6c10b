package notify

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ChatRegistry is the set of subscribed chat ids persisted as a JSON array.
type ChatRegistry struct {
	path string

	mu    sync.Mutex
	chats map[int64]struct{}
}

func NewChatRegistry(path string) (*ChatRegistry, error) {
	r := &ChatRegistry{
		path:  path,
		chats: map[int64]struct{}{},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	ids := []int64{}
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		r.chats[id] = struct{}{}
	}
	return r, nil
}

// Add reports whether id was not already registered.
func (r *ChatRegistry) Add(id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[id]; ok {
		return false, nil
	}
	r.chats[id] = struct{}{}
	return true, r.save()
}

// Remove reports whether id was registered.
func (r *ChatRegistry) Remove(id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[id]; !ok {
		return false, nil
	}
	delete(r.chats, id)
	return true, r.save()
}

func (r *ChatRegistry) List() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list()
}

func (r *ChatRegistry) list() []int64 {
	ids := make([]int64, 0, len(r.chats))
	for id := range r.chats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *ChatRegistry) save() error {
	data, err := json.MarshalIndent(r.list(), "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
