package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"roopapi/models"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LooksSlotKey is the fixed device slot holding the whole serialized local
// look collection.
const LooksSlotKey = "roopai_looks"

// LocalLooksCapacityBytes caps the serialized collection size. A save that
// would push the slot past this ceiling is rejected without touching the
// stored collection.
const LocalLooksCapacityBytes = 4500000

type LocalLookStoreProvider interface {
	LoadAll() ([]models.Look, error)
	SaveAll(looks []models.Look) error
	AppendOne(look models.Look) error
	RemoveOne(id string) error
}

// LocalLookStore keeps the guest/offline look collection in one device slot.
// The device database has no useful partial-write primitive for our purposes,
// so every mutation round-trips the entire collection: the visible state is
// either the old collection or the new one, never something in between.
type LocalLookStore struct {
	DB *gorm.DB

	mu sync.Mutex
}

// LoadAll reads the slot and deserializes the collection. A missing slot is
// an empty collection. A slot that no longer parses is reset and reported as
// models.ErrCorruptLocalState together with the empty collection.
func (s *LocalLookStore) LoadAll() ([]models.Look, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAllLocked()
}

func (s *LocalLookStore) loadAllLocked() ([]models.Look, error) {
	var slot models.DeviceSlot
	result := s.DB.Where("key = ?", LooksSlotKey).Take(&slot)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return []models.Look{}, nil
	}
	if result.Error != nil {
		return []models.Look{}, fmt.Errorf("reading looks slot: %v: %w", result.Error, models.ErrStorageUnavailable)
	}

	var looks []models.Look
	if err := json.Unmarshal(slot.Value, &looks); err != nil {
		sentry.CaptureException(fmt.Errorf("looks slot corrupt, resetting: %v", err))
		// No migration story for the slot: unparseable content is dropped.
		s.DB.Where("key = ?", LooksSlotKey).Delete(&models.DeviceSlot{})
		return []models.Look{}, fmt.Errorf("%v: %w", err, models.ErrCorruptLocalState)
	}
	return looks, nil
}

// SaveAll serializes the full collection and writes it to the slot in one
// upsert. On any failure the previously stored collection stays as it was.
func (s *LocalLookStore) SaveAll(looks []models.Look) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAllLocked(looks)
}

func (s *LocalLookStore) saveAllLocked(looks []models.Look) error {
	if looks == nil {
		looks = []models.Look{}
	}
	serialized, err := json.Marshal(looks)
	if err != nil {
		return fmt.Errorf("serializing looks: %v: %w", err, models.ErrStorageUnavailable)
	}
	if len(serialized) > LocalLooksCapacityBytes {
		return fmt.Errorf("%d bytes over %d byte ceiling: %w", len(serialized), LocalLooksCapacityBytes, models.ErrCapacityExceeded)
	}

	slot := models.DeviceSlot{Key: LooksSlotKey, Value: serialized}
	result := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&slot)
	if result.Error != nil {
		sentry.CaptureException(result.Error)
		return fmt.Errorf("writing looks slot: %v: %w", result.Error, models.ErrStorageUnavailable)
	}
	return nil
}

// AppendOne prepends a look and persists the whole collection. Corrupt prior
// state was already reset by the load, so the append proceeds on empty.
func (s *LocalLookStore) AppendOne(look models.Look) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	looks, err := s.loadAllLocked()
	if err != nil && !errors.Is(err, models.ErrCorruptLocalState) {
		return err
	}
	return s.saveAllLocked(append([]models.Look{look}, looks...))
}

func (s *LocalLookStore) RemoveOne(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	looks, err := s.loadAllLocked()
	if err != nil && !errors.Is(err, models.ErrCorruptLocalState) {
		return err
	}
	kept := make([]models.Look, 0, len(looks))
	for _, look := range looks {
		if look.ID != id {
			kept = append(kept, look)
		}
	}
	return s.saveAllLocked(kept)
}
