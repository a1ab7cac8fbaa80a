package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Store is a write-through handle on a single state document. Every mutating
// method flushes the full document to the backend before returning.
type Store struct {
	mu      sync.Mutex
	path    string
	key     string
	backend Backend
	doc     *Document
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBackend overrides the storage backend. The key is the base name of the path.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func newStore(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is required")
	}
	s := &Store{
		path: path,
		key:  filepath.Base(path),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		s.backend = NewDiskvBackend(filepath.Dir(path))
	}
	return s, nil
}

// Create writes a fresh default document at path, replacing any existing one.
func Create(path string, opts ...Option) (*Store, error) {
	s, err := newStore(path, opts...)
	if err != nil {
		return nil, err
	}
	s.doc = newDocument(s.now())
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the document at path. Categories, template keys and config
// defaults missing from an older document are backfilled in memory.
func Load(path string, opts ...Option) (*Store, error) {
	s, err := newStore(path, opts...)
	if err != nil {
		return nil, err
	}
	if !s.backend.Has(s.key) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	data, err := s.backend.Read(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	doc.backfill()
	s.doc = doc
	return s, nil
}

// LoadOrCreate loads the document at path, creating it when absent.
func LoadOrCreate(path string, opts ...Option) (*Store, error) {
	s, err := Load(path, opts...)
	if err == nil {
		return s, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	return Create(path, opts...)
}

// Exists reports whether a document exists at path.
func Exists(path string, opts ...Option) bool {
	s, err := newStore(path, opts...)
	if err != nil {
		return false
	}
	return s.backend.Has(s.key)
}

// Remove deletes the document at path.
func Remove(path string, opts ...Option) error {
	s, err := newStore(path, opts...)
	if err != nil {
		return err
	}
	if !s.backend.Has(s.key) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return s.backend.Erase(s.key)
}

// Path returns the location of the document.
func (s *Store) Path() string {
	return s.path
}

// Save stamps updated_at and flushes the document.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	s.doc.UpdatedAt = s.now()
	return s.flush()
}

func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := s.backend.Write(s.key, data); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", s.path, err)
	}
	return nil
}

// CreatedAt returns the document creation time.
func (s *Store) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.CreatedAt
}

// UpdatedAt returns the time of the last flush.
func (s *Store) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.UpdatedAt
}

// Step status

// StepStatus returns the persisted status of a step. The second result is
// false when the step has no record, which means pending.
func (s *Store) StepStatus(stepID string) (StepStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Steps[stepID]
	if !ok {
		return StatusPending, false
	}
	return rec.Status, true
}

// StepRecord returns a copy of the persisted record of a step.
func (s *Store) StepRecord(stepID string) (StepRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Steps[stepID]
	if !ok {
		return StepRecord{}, false
	}
	cp := *rec
	cp.CompletedItems = append([]string(nil), rec.CompletedItems...)
	return cp, true
}

// StepOption adds metadata to a status transition.
type StepOption func(*StepRecord)

// WithError records an error message on the step.
func WithError(msg string) StepOption {
	return func(r *StepRecord) {
		r.Error = msg
	}
}

// SetStepStatus records a status transition for a step. Completed items are
// preserved. A stale error is cleared unless the new status is failed.
func (s *Store) SetStepStatus(stepID string, status StepStatus, opts ...StepOption) error {
	if err := status.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(stepID)
	rec.Status = status
	rec.UpdatedAt = s.now()
	if status != StatusFailed {
		rec.Error = ""
	}
	for _, opt := range opts {
		opt(rec)
	}
	return s.saveLocked()
}

// recordLocked returns the record of a step, creating a pending one if needed.
func (s *Store) recordLocked(stepID string) *StepRecord {
	rec, ok := s.doc.Steps[stepID]
	if !ok {
		rec = &StepRecord{Status: StatusPending, UpdatedAt: s.now()}
		s.doc.Steps[stepID] = rec
	}
	return rec
}

// ResetStep drops the record of a step so it is pending again.
func (s *Store) ResetStep(stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Steps, stepID)
	return s.saveLocked()
}

// Batch items

// MarkStepItemComplete adds item to the completed set of a step. Marking an
// item that is already complete is a no-op, but the document is still flushed.
func (s *Store) MarkStepItemComplete(stepID, item string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(stepID)
	if !rec.hasItem(item) {
		rec.CompletedItems = append(rec.CompletedItems, item)
		rec.UpdatedAt = s.now()
	}
	return s.saveLocked()
}

// CompletedItems returns the completed items of a step in insertion order.
func (s *Store) CompletedItems(stepID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Steps[stepID]
	if !ok {
		return nil
	}
	return append([]string(nil), rec.CompletedItems...)
}

// RemainingItems returns all minus the completed items of a step, keeping the order of all.
func (s *Store) RemainingItems(stepID string, all []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(map[string]struct{})
	if rec, ok := s.doc.Steps[stepID]; ok {
		for _, item := range rec.CompletedItems {
			done[item] = struct{}{}
		}
	}
	remaining := make([]string, 0, len(all))
	for _, item := range all {
		if _, ok := done[item]; !ok {
			remaining = append(remaining, item)
		}
	}
	return remaining
}

// Component registry

// StoreComponentID records a remote identifier. Scalar categories ignore name
// and overwrite the previous value.
func (s *Store) StoreComponentID(category, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.doc.ComponentIDs
	switch {
	case IsScalarCategory(category):
		v := value
		ids.scalar[category] = &v
	case isKeyedCategory(category):
		ids.keyed[category][name] = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return s.saveLocked()
}

// ComponentID returns a remote identifier. Scalar categories ignore name.
func (s *Store) ComponentID(category, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.doc.ComponentIDs
	switch {
	case IsScalarCategory(category):
		v := ids.scalar[category]
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	case isKeyedCategory(category):
		v, ok := ids.keyed[category][name]
		return v, ok, nil
	default:
		return "", false, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
}

// ComponentNames returns the sorted names recorded in a keyed category.
func (s *Store) ComponentNames(category string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !isKeyedCategory(category) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return s.doc.ComponentIDs.Names(category), nil
}

// Configuration

// UpdateConfig merges partial into the non-secret configuration.
func (s *Store) UpdateConfig(partial map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range partial {
		s.doc.Config[k] = v
	}
	return s.saveLocked()
}

// Config returns a shallow copy of the configuration section.
func (s *Store) Config() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.doc.Config))
	for k, v := range s.doc.Config {
		out[k] = v
	}
	return out
}

// ConfigString returns a string config value, or "" when absent or not a string.
func (s *Store) ConfigString(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.doc.Config[key].(string)
	return v
}

// StoreUniverseID records the universe backing a deployed model.
func (s *Store) StoreUniverseID(model, universeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := universeIDs(s.doc.Config[ConfigUniverseIDs])
	ids[model] = universeID
	m := make(map[string]interface{}, len(ids))
	for k, v := range ids {
		m[k] = v
	}
	s.doc.Config[ConfigUniverseIDs] = m
	return s.saveLocked()
}

// UniverseIDs returns the model name to universe id mapping.
func (s *Store) UniverseIDs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return universeIDs(s.doc.Config[ConfigUniverseIDs])
}

func universeIDs(v interface{}) map[string]string {
	out := make(map[string]string)
	switch m := v.(type) {
	case map[string]interface{}:
		for k, id := range m {
			if str, ok := id.(string); ok {
				out[k] = str
			}
		}
	case map[string]string:
		for k, id := range m {
			out[k] = id
		}
	}
	return out
}

// Discovery templates

// StoreDiscoveryTemplate records a captured payload for key.
func (s *Store) StoreDiscoveryTemplate(key, text string) error {
	if !isDiscoveryKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := text
	s.doc.DiscoveryTemplates[key] = &t
	return s.saveLocked()
}

// DiscoveryTemplate returns the captured payload for key.
func (s *Store) DiscoveryTemplate(key string) (string, bool, error) {
	if !isDiscoveryKey(key) {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownTemplate, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.doc.DiscoveryTemplates[key]
	if t == nil {
		return "", false, nil
	}
	return *t, true, nil
}

// Reset clears step progress, component ids and discovery templates but keeps configuration.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Steps = nil
	s.doc.ComponentIDs = nil
	s.doc.DiscoveryTemplates = nil
	s.doc.backfill()
	return s.saveLocked()
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
