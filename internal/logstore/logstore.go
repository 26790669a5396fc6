// Package logstore persists the per-job detail records and the per-user
// activity stacks under the job's source-file directory:
//
//	<hip_dir>/export/serve/log/detail/<uuid>.json
//	<hip_dir>/export/serve/log/users/<user_id>.json
//
// All writes go through an atomic temp-file-plus-rename so readers never
// observe a partially written file. The store is the only writer of
// these files; it reloads before every mutation and keeps no cache.
package logstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	serveRel  = "export/serve/log"
	detailRel = "detail"
	usersRel  = "users"

	// StatusReplaced marks stack entries that were superseded by a newer
	// run of the same process name.
	StatusReplaced = "replaced"

	maxFilename = 200
)

var errNoRoot = errors.New("logstore: cannot derive log root from source path")

// StackEntry is one slot of a user's activity stack.
type StackEntry struct {
	ProcessName string `json:"process_name"`
	UUID        string `json:"uuid"`
	RequestTime string `json:"request_time"`
	Status      string `json:"status"`
	ReplacedAt  string `json:"replaced_at,omitempty"`
}

// UserState is the persistent per-user structure. The stack holds at
// most one live entry per distinct process name; everything ever pushed
// out of the stack lands in History with StatusReplaced.
type UserState struct {
	UserID    string       `json:"user_id"`
	Stack     []StackEntry `json:"stack"`
	History   []StackEntry `json:"history"`
	UpdatedAt string       `json:"updated_at"`
}

// Store writes detail and user logs. Mutations of the same user file
// serialize through a per-key mutex held for the whole
// load-modify-store, so concurrent jobs for one user cannot lose
// updates to each other.
type Store struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Store {
	return &Store{locks: make(map[string]*sync.Mutex)}
}

func (s *Store) userLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// DetailPath returns where the detail record for uuid would be written,
// or an error when the source path yields no usable directory.
func DetailPath(sourcePath, uuid string) (string, error) {
	base, err := logRoot(sourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, detailRel, uuid+".json"), nil
}

// UserPath returns the activity log path for userID under sourcePath's
// log root, with the user id sanitized into a safe filename.
func UserPath(sourcePath, userID string) (string, error) {
	base, err := logRoot(sourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, usersRel, SafeFilename(userID)+".json"), nil
}

// WriteDetail persists one append-once detail record keyed by uuid.
// Callers treat failures as best-effort: the error is for logging only
// and must never fail the job that produced the record.
func (s *Store) WriteDetail(sourcePath, uuid string, record any) (string, error) {
	if sourcePath == "" || uuid == "" {
		return "", errNoRoot
	}
	path, err := DetailPath(sourcePath, uuid)
	if err != nil {
		return "", err
	}
	if err := atomicWriteJSON(path, record); err != nil {
		return "", err
	}
	return path, nil
}

// AppendOrReplaceUserStack updates the user's stack for processName:
// absent names append; an existing entry at index i sends everything
// after i, and the entry at i itself, to history as replaced, truncates
// the stack to i+1 and overwrites slot i with the new entry.
func (s *Store) AppendOrReplaceUserStack(sourcePath, userID, processName, uuid, requestTimeISO, status string) (string, error) {
	if sourcePath == "" || userID == "" || processName == "" || uuid == "" || requestTimeISO == "" {
		return "", errors.New("logstore: missing field for user stack update")
	}
	path, err := UserPath(sourcePath, userID)
	if err != nil {
		return "", err
	}

	l := s.userLock(path)
	l.Lock()
	defer l.Unlock()

	state := loadUserState(path, userID)
	entry := StackEntry{
		ProcessName: processName,
		UUID:        uuid,
		RequestTime: requestTimeISO,
		Status:      status,
	}

	idx := -1
	for i, e := range state.Stack {
		if e.ProcessName == processName {
			idx = i
			break
		}
	}

	if idx < 0 {
		state.Stack = append(state.Stack, entry)
	} else {
		// Everything downstream of slot idx is stale now, and so is the
		// old occupant of the slot itself. History records the downstream
		// tail first and the superseded slot entry last.
		retire := func(old StackEntry) {
			old.Status = StatusReplaced
			old.ReplacedAt = requestTimeISO
			state.History = append(state.History, old)
		}
		for _, old := range state.Stack[idx+1:] {
			retire(old)
		}
		retire(state.Stack[idx])
		state.Stack = state.Stack[:idx+1]
		state.Stack[idx] = entry
	}
	state.UpdatedAt = requestTimeISO

	if err := atomicWriteJSON(path, state); err != nil {
		return "", err
	}
	return path, nil
}

// LoadUserState reads the current state for userID, returning an empty
// state when the file does not exist or cannot be parsed.
func (s *Store) LoadUserState(sourcePath, userID string) (UserState, error) {
	path, err := UserPath(sourcePath, userID)
	if err != nil {
		return UserState{UserID: userID}, err
	}
	return loadUserState(path, userID), nil
}

func loadUserState(path, userID string) UserState {
	state := UserState{UserID: userID}
	b, err := os.ReadFile(path)
	if err != nil {
		return state
	}
	var loaded UserState
	if err := json.Unmarshal(b, &loaded); err != nil {
		// Corrupt file: start over rather than fail the job.
		return state
	}
	loaded.UserID = userID
	return loaded
}

func logRoot(sourcePath string) (string, error) {
	if sourcePath == "" {
		return "", errNoRoot
	}
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(abs)
	if dir == "" || dir == "." {
		return "", errNoRoot
	}
	return filepath.Join(dir, filepath.FromSlash(serveRel)), nil
}

// SafeFilename maps a raw identifier to a filesystem-safe name usable
// on both Windows and Unix: illegal and control characters become '_',
// and the result is capped at 200 characters.
func SafeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 32, strings.ContainsRune(`<>:"/\|?*`, r), r == '+':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if utf8.RuneCountInString(out) > maxFilename {
		out = string([]rune(out)[:maxFilename])
	}
	return out
}

// ListDetailUUIDs enumerates the uuids with a detail record under
// sourcePath, sorted. Used by operators poking at a scene's history.
func ListDetailUUIDs(sourcePath string) ([]string, error) {
	base, err := logRoot(sourcePath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(base, detailRel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".json") {
			out = append(out, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(out)
	return out, nil
}

func atomicWriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".log-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
