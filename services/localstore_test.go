package services_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"roopapi/dbhelper"
	"roopapi/models"
	"roopapi/services"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	store := &services.LocalLookStore{DB: db}

	looks, err := store.LoadAll()
	assert.NoError(t, err)
	assert.Empty(t, looks)

	saved := []models.Look{
		{ID: "look-1", Kind: models.LookKindHair, Label: "Textured bob", MimeType: "image/jpeg", Payload: []byte("image-one"), CreatedAt: time.Now().UTC()},
		{ID: "look-2", Kind: models.LookKindCloth, Label: "Denim jacket", MimeType: "image/png", Payload: []byte("image-two"), CreatedAt: time.Now().UTC()},
	}
	assert.NoError(t, store.SaveAll(saved))

	looks, err = store.LoadAll()
	assert.NoError(t, err)
	assert.Len(t, looks, 2)
	assert.Equal(t, "look-1", looks[0].ID)
	assert.Equal(t, []byte("image-one"), looks[0].Payload)
	assert.Equal(t, "look-2", looks[1].ID)

	// Second SaveAll overwrites the slot, it does not accumulate.
	assert.NoError(t, store.SaveAll(saved[:1]))
	looks, err = store.LoadAll()
	assert.NoError(t, err)
	assert.Len(t, looks, 1)
}

func TestLocalStoreCorruptSlotResets(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	store := &services.LocalLookStore{DB: db}

	db.Create(&models.DeviceSlot{Key: services.LooksSlotKey, Value: []byte("{definitely not json")})

	looks, err := store.LoadAll()
	assert.ErrorIs(t, err, models.ErrCorruptLocalState)
	assert.Empty(t, looks)

	// The broken slot is gone, the store behaves as empty from here on.
	looks, err = store.LoadAll()
	assert.NoError(t, err)
	assert.Empty(t, looks)

	assert.NoError(t, store.AppendOne(models.Look{ID: "after-reset", Kind: models.LookKindHair}))
	looks, err = store.LoadAll()
	assert.NoError(t, err)
	assert.Len(t, looks, 1)
}

func TestLocalStoreCapacityCeiling(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	store := &services.LocalLookStore{DB: db}

	// 3.3MB of pixels serialize to 4.4MB of base64, just under the slot
	// ceiling. Another 150KB look pushes the collection to roughly 4.6MB.
	big := bytes.Repeat([]byte("a"), 3300000)
	first := models.Look{ID: "big-1", Kind: models.LookKindHair, MimeType: "image/jpeg", Payload: big}
	assert.NoError(t, store.AppendOne(first))

	second := models.Look{ID: "big-2", Kind: models.LookKindHair, MimeType: "image/jpeg", Payload: bytes.Repeat([]byte("b"), 150000)}
	err := store.AppendOne(second)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)

	// The rejected write left the stored collection untouched.
	looks, err := store.LoadAll()
	assert.NoError(t, err)
	assert.Len(t, looks, 1)
	assert.Equal(t, "big-1", looks[0].ID)

	// Tiny looks still fit next to the big one.
	assert.NoError(t, store.AppendOne(models.Look{ID: "small", Kind: models.LookKindCloth, Payload: []byte("tiny")}))
	looks, _ = store.LoadAll()
	assert.Len(t, looks, 2)
}

func TestLocalStoreAppendPrepends(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	store := &services.LocalLookStore{DB: db}

	assert.NoError(t, store.AppendOne(models.Look{ID: "oldest", Kind: models.LookKindHair}))
	assert.NoError(t, store.AppendOne(models.Look{ID: "middle", Kind: models.LookKindHair}))
	assert.NoError(t, store.AppendOne(models.Look{ID: "newest", Kind: models.LookKindHair}))

	looks, err := store.LoadAll()
	assert.NoError(t, err)
	assert.Equal(t, []string{"newest", "middle", "oldest"}, []string{looks[0].ID, looks[1].ID, looks[2].ID})
}

func TestLocalStoreRemove(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	store := &services.LocalLookStore{DB: db}

	assert.NoError(t, store.AppendOne(models.Look{ID: "keep", Kind: models.LookKindHair}))
	assert.NoError(t, store.AppendOne(models.Look{ID: "drop", Kind: models.LookKindHair}))

	assert.NoError(t, store.RemoveOne("drop"))
	looks, err := store.LoadAll()
	assert.NoError(t, err)
	assert.Len(t, looks, 1)
	assert.Equal(t, "keep", looks[0].ID)

	// Removing something that is already gone is not an error.
	assert.NoError(t, store.RemoveOne("drop"))
	assert.NoError(t, store.RemoveOne("never-existed"))
}
