package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"roopapi/dbhelper"
	"roopapi/models"
	"roopapi/services"
	"roopapi/test"
)

func setupRepository(t *testing.T) (*services.LookRepository, *services.IdentityMonitor, *services.LocalLookStore, *test.FakeRemoteLookStore, func()) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	monitor := services.NewIdentityMonitor()
	local := &services.LocalLookStore{DB: db}
	remote := test.NewFakeRemoteLookStore()
	repository := services.NewLookRepository(monitor, local, remote)
	return repository, monitor, local, remote, func() {
		repository.Close()
		cleaner()
	}
}

func TestRepositoryNoActiveSession(t *testing.T) {
	repository, _, _, _, teardown := setupRepository(t)
	defer teardown()

	_, err := repository.Save(context.Background(), models.Look{ID: "nope", Kind: models.LookKindHair})
	assert.ErrorIs(t, err, models.ErrNoActiveSession)

	err = repository.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNoActiveSession)

	assert.Empty(t, repository.List())
}

func TestRepositoryGuestRoundTrip(t *testing.T) {
	repository, monitor, local, _, teardown := setupRepository(t)
	defer teardown()

	monitor.SetGuest()

	res, err := repository.Save(context.Background(), models.Look{ID: "guest-1", Kind: models.LookKindHair, Payload: []byte("one")})
	assert.NoError(t, err)
	assert.Equal(t, services.BackendLocal, res.Backend)
	assert.False(t, res.Fallback)

	res, err = repository.Save(context.Background(), models.Look{ID: "guest-2", Kind: models.LookKindCloth, Payload: []byte("two")})
	assert.NoError(t, err)
	assert.Equal(t, services.BackendLocal, res.Backend)

	looks := repository.List()
	assert.Len(t, looks, 2)
	assert.Equal(t, "guest-2", looks[0].ID)
	assert.Equal(t, "guest-1", looks[1].ID)

	// A fresh repository over the same device storage sees the same looks.
	second := services.NewLookRepository(monitor, local, test.NewFakeRemoteLookStore())
	defer second.Close()
	looks = second.List()
	assert.Len(t, looks, 2)
	assert.Equal(t, "guest-2", looks[0].ID)

	assert.NoError(t, repository.Delete(context.Background(), "guest-1"))
	looks = repository.List()
	assert.Len(t, looks, 1)
	assert.Equal(t, "guest-2", looks[0].ID)

	stored, err := local.LoadAll()
	assert.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRepositoryRemoteRoundTrip(t *testing.T) {
	repository, monitor, _, remote, teardown := setupRepository(t)
	defer teardown()

	monitor.SetAuthenticated("user-1")

	res, err := repository.Save(context.Background(), models.Look{ID: "cloud-1", Kind: models.LookKindHair, Payload: []byte("pixels")})
	assert.NoError(t, err)
	assert.Equal(t, services.BackendRemote, res.Backend)
	assert.False(t, res.Fallback)
	assert.NoError(t, res.RemoteErr)

	looks := repository.List()
	assert.Len(t, looks, 1)
	assert.True(t, looks[0].Stored())
	assert.Empty(t, looks[0].Payload)
	assert.Equal(t, "users/user-1/looks/cloud-1.jpg", *looks[0].RemoteBlobKey)

	assert.NoError(t, repository.Delete(context.Background(), "cloud-1"))
	assert.Empty(t, repository.List())
	assert.Empty(t, remote.Collections["user-1"])

	// Deleting a look that is already gone still succeeds.
	assert.NoError(t, repository.Delete(context.Background(), "cloud-1"))
}

func TestRepositoryRemoteFallback(t *testing.T) {
	repository, monitor, local, remote, teardown := setupRepository(t)
	defer teardown()

	monitor.SetAuthenticated("user-1")
	remote.FailSave = errors.New("firestore unreachable")

	res, err := repository.Save(context.Background(), models.Look{ID: "parked", Kind: models.LookKindHair, Payload: []byte("pixels")})
	assert.NoError(t, err)
	assert.Equal(t, services.BackendLocal, res.Backend)
	assert.True(t, res.Fallback)
	assert.ErrorContains(t, res.RemoteErr, "firestore unreachable")

	// The look is visible in the feed and parked on the device.
	looks := repository.List()
	assert.Len(t, looks, 1)
	assert.Equal(t, "parked", looks[0].ID)

	stored, err := local.LoadAll()
	assert.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, "parked", stored[0].ID)

	// Nothing reached the remote collection.
	assert.Empty(t, remote.Collections["user-1"])
}

func TestRepositoryModeSwitchIsolation(t *testing.T) {
	repository, monitor, _, remote, teardown := setupRepository(t)
	defer teardown()

	monitor.SetGuest()
	_, err := repository.Save(context.Background(), models.Look{ID: "guest-only", Kind: models.LookKindHair, Payload: []byte("one")})
	assert.NoError(t, err)
	assert.Len(t, repository.List(), 1)

	// Signing in drops the guest feed entirely, the cloud account starts
	// from its own collection.
	monitor.SetAuthenticated("user-1")
	assert.Empty(t, repository.List())

	remote.PushSnapshot("user-1", []models.Look{
		{ID: "cloud-b", Kind: models.LookKindHair},
		{ID: "cloud-a", Kind: models.LookKindHair},
	})
	looks := repository.List()
	assert.Len(t, looks, 2)
	assert.Equal(t, "cloud-b", looks[0].ID)

	// A snapshot replaces the feed wholesale, it does not merge.
	remote.PushSnapshot("user-1", []models.Look{{ID: "cloud-c", Kind: models.LookKindHair}})
	looks = repository.List()
	assert.Len(t, looks, 1)
	assert.Equal(t, "cloud-c", looks[0].ID)

	// Back to guest: device looks come back, cloud looks disappear, and
	// pushes for the old account no longer land anywhere.
	monitor.SetGuest()
	looks = repository.List()
	assert.Len(t, looks, 1)
	assert.Equal(t, "guest-only", looks[0].ID)

	remote.PushSnapshot("user-1", []models.Look{{ID: "cloud-d", Kind: models.LookKindHair}})
	looks = repository.List()
	assert.Len(t, looks, 1)
	assert.Equal(t, "guest-only", looks[0].ID)
}

// recordingRemoteStore keeps the raw subscription callback around so the test
// can replay it after the feed was torn down.
type recordingRemoteStore struct {
	lastCallback func([]models.Look)
}

func (s *recordingRemoteStore) Save(ctx context.Context, userID string, look models.Look) (models.Look, error) {
	return look, nil
}

func (s *recordingRemoteStore) Delete(ctx context.Context, userID string, id string, blobKey *string) error {
	return nil
}

func (s *recordingRemoteStore) Subscribe(userID string, onUpdate func([]models.Look)) func() {
	s.lastCallback = onUpdate
	onUpdate([]models.Look{})
	return func() {}
}

func TestRepositoryDropsStaleSnapshots(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	monitor := services.NewIdentityMonitor()
	remote := &recordingRemoteStore{}
	repository := services.NewLookRepository(monitor, &services.LocalLookStore{DB: db}, remote)
	defer repository.Close()

	monitor.SetAuthenticated("user-1")
	stale := remote.lastCallback
	assert.NotNil(t, stale)

	monitor.SetGuest()
	assert.Empty(t, repository.List())

	// A snapshot arriving late from the torn-down feed must not resurface.
	stale([]models.Look{{ID: "late-arrival", Kind: models.LookKindHair}})
	assert.Empty(t, repository.List())
}

func TestRepositoryRemoteFeedWaitsForSnapshot(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	monitor := services.NewIdentityMonitor()
	remote := &recordingRemoteStore{}
	repository := services.NewLookRepository(monitor, &services.LocalLookStore{DB: db}, remote)
	defer repository.Close()

	monitor.SetAuthenticated("user-1")

	// The backend acks the save but has not streamed a snapshot yet: the
	// look must not appear in the feed until the subscription delivers it.
	res, err := repository.Save(context.Background(), models.Look{ID: "acked", Kind: models.LookKindHair, Payload: []byte("pixels")})
	assert.NoError(t, err)
	assert.Equal(t, services.BackendRemote, res.Backend)
	assert.Empty(t, repository.List())

	remote.lastCallback([]models.Look{{ID: "acked", Kind: models.LookKindHair}})
	looks := repository.List()
	assert.Len(t, looks, 1)
	assert.Equal(t, "acked", looks[0].ID)

	// Same for delete: the feed keeps the look until a snapshot without it
	// arrives.
	assert.NoError(t, repository.Delete(context.Background(), "acked"))
	assert.Len(t, repository.List(), 1)

	remote.lastCallback([]models.Look{})
	assert.Empty(t, repository.List())
}

func TestRepositoryConcurrentSaves(t *testing.T) {
	repository, monitor, local, _, teardown := setupRepository(t)
	defer teardown()

	monitor.SetGuest()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := repository.Save(context.Background(), models.Look{
				ID:      fmt.Sprintf("concurrent-%d", n),
				Kind:    models.LookKindHair,
				Payload: []byte("pixels"),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// No save got lost to an interleaved read-modify-write.
	assert.Len(t, repository.List(), 10)
	stored, err := local.LoadAll()
	assert.NoError(t, err)
	assert.Len(t, stored, 10)
}
