package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"roopapi/dbhelper"
	"roopapi/models"
	"roopapi/services"
	"roopapi/test"
)

func writeTempImage(t *testing.T, name string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("input-image-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHandleStylePreviewTask(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	os.Setenv("GOOGLE_API_KEY", "test-key")
	defer os.Unsetenv("GOOGLE_API_KEY")

	selfiePath := writeTempImage(t, "selfie.jpg")
	generation := models.Generation{
		Kind:            models.LookKindHair,
		Label:           "Pixie cut",
		Status:          "pending",
		PersonImagePath: selfiePath,
		StyleName:       services.StrPointer("Pixie cut"),
	}
	db.Create(&generation)

	task, err := NewStylePreviewTask(generation.ID)
	assert.NoError(t, err)

	err = HandleStylePreviewTask(context.Background(), task, db, test.StylistMock{}, nil)
	assert.NoError(t, err)

	var updated models.Generation
	db.First(&updated, generation.ID)
	assert.Equal(t, "completed", updated.Status)
	assert.Equal(t, []byte("fake-image-bytes"), updated.Result)
	assert.NotNil(t, updated.ResultMimeType)
	assert.NotNil(t, updated.Duration)
	assert.Equal(t, int32(11), *updated.LLMTotalTokenCount)

	// The consumed input file was cleaned up.
	_, err = os.Stat(selfiePath)
	assert.True(t, os.IsNotExist(err))

	// Re-delivery of the same task is a no-op.
	err = HandleStylePreviewTask(context.Background(), task, db, test.StylistMock{}, nil)
	assert.NoError(t, err)
}

func TestHandleStylePreviewTaskMissingInputs(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	os.Setenv("GOOGLE_API_KEY", "test-key")
	defer os.Unsetenv("GOOGLE_API_KEY")

	// Missing style name fails the generation without retrying.
	generation := models.Generation{
		Kind:            models.LookKindHair,
		Status:          "pending",
		PersonImagePath: writeTempImage(t, "selfie.jpg"),
	}
	db.Create(&generation)
	task, _ := NewStylePreviewTask(generation.ID)
	assert.NoError(t, HandleStylePreviewTask(context.Background(), task, db, test.StylistMock{}, nil))

	var updated models.Generation
	db.First(&updated, generation.ID)
	assert.Equal(t, "failed", updated.Status)
	assert.NotNil(t, updated.GenerationErrorMessage)

	// A vanished selfie file fails the generation the same way.
	gone := models.Generation{
		Kind:            models.LookKindHair,
		Status:          "pending",
		PersonImagePath: "/nonexistent/selfie.jpg",
		StyleName:       services.StrPointer("Pixie cut"),
	}
	db.Create(&gone)
	task, _ = NewStylePreviewTask(gone.ID)
	assert.NoError(t, HandleStylePreviewTask(context.Background(), task, db, test.StylistMock{}, nil))

	db.First(&updated, gone.ID)
	assert.Equal(t, "failed", updated.Status)
}

func TestHandleTryOnGenerationTask(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	os.Setenv("GOOGLE_API_KEY", "test-key")
	defer os.Unsetenv("GOOGLE_API_KEY")

	personPath := writeTempImage(t, "person.jpg")
	garmentPath := writeTempImage(t, "garment.jpg")
	generation := models.Generation{
		Kind:             models.LookKindCloth,
		Label:            "Denim jacket",
		Status:           "pending",
		PersonImagePath:  personPath,
		GarmentImagePath: &garmentPath,
	}
	db.Create(&generation)

	task, err := NewTryOnGenerationTask(generation.ID)
	assert.NoError(t, err)

	err = HandleTryOnGenerationTask(context.Background(), task, db, test.StylistMock{}, nil)
	assert.NoError(t, err)

	var updated models.Generation
	db.First(&updated, generation.ID)
	assert.Equal(t, "completed", updated.Status)
	assert.Equal(t, []byte("fake-tryon-bytes"), updated.Result)

	_, err = os.Stat(personPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(garmentPath)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveGenerationFailRetries(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	generation := models.Generation{Kind: models.LookKindHair, Status: "generating"}
	db.Create(&generation)

	// Two retryable failures keep the generation alive.
	assert.NoError(t, saveGenerationFail(db, generation, "flaky upstream", true))
	db.First(&generation, generation.ID)
	assert.Equal(t, "generating", generation.Status)
	assert.Equal(t, 1, generation.GenerationRetryTimes)

	assert.NoError(t, saveGenerationFail(db, generation, "flaky upstream", true))
	db.First(&generation, generation.ID)
	assert.Equal(t, "generating", generation.Status)

	// The third strike fails it for good.
	assert.NoError(t, saveGenerationFail(db, generation, "flaky upstream", true))
	db.First(&generation, generation.ID)
	assert.Equal(t, "failed", generation.Status)
	assert.Equal(t, 3, generation.GenerationRetryTimes)
	assert.Equal(t, "flaky upstream", *generation.GenerationErrorMessage)
}

func TestHandlePurgeGenerationsTask(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()

	old := models.Generation{Kind: models.LookKindHair, Status: "completed"}
	db.Create(&old)
	db.Model(&old).UpdateColumn("updated_at", time.Now().AddDate(0, 0, -10))

	oldFailed := models.Generation{Kind: models.LookKindHair, Status: "failed"}
	db.Create(&oldFailed)
	db.Model(&oldFailed).UpdateColumn("updated_at", time.Now().AddDate(0, 0, -10))

	// Recent and still-pending rows survive the purge.
	recent := models.Generation{Kind: models.LookKindHair, Status: "completed"}
	db.Create(&recent)
	oldPending := models.Generation{Kind: models.LookKindHair, Status: "pending"}
	db.Create(&oldPending)
	db.Model(&oldPending).UpdateColumn("updated_at", time.Now().AddDate(0, 0, -10))

	task, err := NewPurgeGenerationsTask()
	assert.NoError(t, err)
	assert.NoError(t, HandlePurgeGenerationsTask(context.Background(), task, db))

	var remaining []models.Generation
	db.Find(&remaining)
	assert.Len(t, remaining, 2)
	ids := []uint{remaining[0].ID, remaining[1].ID}
	assert.Contains(t, ids, recent.ID)
	assert.Contains(t, ids, oldPending.ID)
}
