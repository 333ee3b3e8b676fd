package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"roopapi/models"
	"roopapi/services"
)

const (
	TypeStylePreview     = "generate:hairstyle"
	TypeTryOnGeneration  = "generate:tryon"
	TypePurgeGenerations = "maintenance:purge_generations"
)

type GenerationPayload struct {
	GenerationID uint `json:"generation_id"`
}

// Client initializes an asynq client for enqueuing tasks
func NewClient() (*asynq.Client, error) {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")}), nil
}

func NewStylePreviewTask(generationID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(GenerationPayload{GenerationID: generationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeStylePreview, payload), nil
}

func NewTryOnGenerationTask(generationID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(GenerationPayload{GenerationID: generationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeTryOnGeneration, payload), nil
}

func NewPurgeGenerationsTask() (*asynq.Task, error) {
	return asynq.NewTask(TypePurgeGenerations, nil), nil
}

func saveGenerationFail(db *gorm.DB, generation models.Generation, message string, shouldRetry bool) error {
	generation.GenerationRetryTimes = generation.GenerationRetryTimes + 1
	generation.GenerationErrorMessage = services.StrPointer(message)
	if !shouldRetry || generation.GenerationRetryTimes >= 3 {
		generation.Status = "failed"
	}
	tx := db.Save(&generation)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Fail Generation %v] Error on saving generation for failed status", generation.ID))
		return tx.Error
	}
	return nil
}

func finishGeneration(db *gorm.DB, fbApp *firebase.App, generation models.Generation, llmResponse *services.LLMResponse, modelString string, startedAt time.Time) error {
	if len(llmResponse.Images) == 0 {
		saveGenerationFail(db, generation, "The model returned no image, please try a different photo", true)
		sentry.CaptureException(fmt.Errorf("[Generation: %v] No image in response, text: %q", generation.ID, llmResponse.Response))
		return fmt.Errorf("[Generation: %v] No image in response", generation.ID)
	}

	resultBytes := llmResponse.Images[0]
	mimeType := http.DetectContentType(resultBytes)
	duration := time.Since(startedAt).Seconds()

	generation.Status = "completed"
	generation.Result = resultBytes
	generation.ResultMimeType = &mimeType
	generation.LLMModel = &modelString
	generation.LLMInputTokenCount = &llmResponse.InputTokenCount
	generation.LLMOutputTokenCount = &llmResponse.OutputTokenCount
	generation.LLMTotalTokenCount = &llmResponse.TotalTokenCount
	generation.Duration = &duration
	generation.GenerationErrorMessage = nil

	tx := db.Save(&generation)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error on saving generation %v", generation.ID))
		return tx.Error
	}

	// Input temp files are no longer needed once the result is stored.
	os.Remove(generation.PersonImagePath)
	if generation.GarmentImagePath != nil {
		os.Remove(*generation.GarmentImagePath)
	}

	fmt.Printf("[Generation: %v] Finished successfully in %.1fs, result size %d bytes\n", generation.ID, duration, len(resultBytes))
	services.SendNotification(fbApp, db, "Your look is ready!", fmt.Sprintf("Your %s preview is ready, open RoopAI to see it", generation.Label), map[string]string{"generation_id": fmt.Sprintf("%d", generation.ID), "type": "generation_completed"})
	return nil
}

// HandleStylePreviewTask renders the hairstyle preview for a pending generation.
func HandleStylePreviewTask(ctx context.Context, t *asynq.Task, db *gorm.DB, stylist services.StylistProvider, fbApp *firebase.App) error {
	google_key := os.Getenv("GOOGLE_API_KEY")
	if google_key == "" {
		sentry.CaptureException(fmt.Errorf("[QUEUE] %s Google API key is not set", string(t.Payload())))
		return fmt.Errorf("[QUEUE] %s Google API key is not set", string(t.Payload()))
	}
	var payload GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Generation: %v] Style preview processing\n", payload.GenerationID)

	var generation models.Generation
	res := db.First(&generation, payload.GenerationID)
	if res.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error on retrieving generation for processing %v", payload.GenerationID))
		return res.Error
	}
	if generation.Status == "completed" {
		fmt.Printf("[Generation: %v] Already completed\n", payload.GenerationID)
		return nil
	}
	if generation.StyleName == nil || *generation.StyleName == "" {
		saveGenerationFail(db, generation, "No style name provided, please start a new generation", false)
		sentry.CaptureException(fmt.Errorf("[Generation: %v] Style name is nil", payload.GenerationID))
		return nil
	}
	if _, err := os.Stat(generation.PersonImagePath); err != nil {
		saveGenerationFail(db, generation, "The selfie file is gone, please start a new generation", false)
		sentry.CaptureException(fmt.Errorf("[Generation: %v] Selfie file missing %s: %v", payload.GenerationID, generation.PersonImagePath, err))
		return nil
	}

	generation.Status = "generating"
	if err := db.Save(&generation).Error; err != nil {
		sentry.CaptureException(err)
		return err
	}

	model := services.Flash25Image
	fmt.Printf("[Generation: %v] Model: %s Style: %s\n", payload.GenerationID, model.String(), *generation.StyleName)

	startedAt := time.Now()
	llmResponse, err := stylist.GenerateStylePreview(generation.PersonImagePath, *generation.StyleName, model)
	if err != nil {
		fmt.Printf("[Generation: %v] Error on generating style preview: %v\n", payload.GenerationID, err)
		saveGenerationFail(db, generation, "Failed to generate your preview, please try again", true)
		sentry.CaptureException(fmt.Errorf("[Generation: %v] Error on generating style preview: %v", payload.GenerationID, err))
		return err
	}
	if llmResponse == nil {
		saveGenerationFail(db, generation, "Failed to generate your preview, please try again", true)
		sentry.CaptureException(fmt.Errorf("[Generation: %v] Response is nil but no error provided", payload.GenerationID))
		return fmt.Errorf("[Generation: %v] Response is nil but no error provided", payload.GenerationID)
	}

	return finishGeneration(db, fbApp, generation, llmResponse, model.String(), startedAt)
}

// HandleTryOnGenerationTask dresses the person image in the garment image.
func HandleTryOnGenerationTask(ctx context.Context, t *asynq.Task, db *gorm.DB, stylist services.StylistProvider, fbApp *firebase.App) error {
	var payload GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Generation: %v] Try on processing\n", payload.GenerationID)

	var generation models.Generation
	res := db.First(&generation, payload.GenerationID)
	if res.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error on retrieving generation for processing %v", payload.GenerationID))
		return res.Error
	}
	if generation.Status == "completed" {
		fmt.Printf("[Generation: %v] Already completed\n", payload.GenerationID)
		return nil
	}
	if generation.GarmentImagePath == nil || *generation.GarmentImagePath == "" {
		saveGenerationFail(db, generation, "No garment image provided, please start a new generation", false)
		sentry.CaptureException(fmt.Errorf("[Generation: %v] Garment image path is nil", payload.GenerationID))
		return nil
	}
	if _, err := os.Stat(generation.PersonImagePath); err != nil {
		saveGenerationFail(db, generation, "The person photo is gone, please start a new generation", false)
		sentry.CaptureException(fmt.Errorf("[Generation: %v] Person file missing %s: %v", payload.GenerationID, generation.PersonImagePath, err))
		return nil
	}

	generation.Status = "generating"
	if err := db.Save(&generation).Error; err != nil {
		sentry.CaptureException(err)
		return err
	}

	model := services.Flash25Image
	fmt.Printf("[Generation: %v] Model: %s\n", payload.GenerationID, model.String())

	startedAt := time.Now()
	llmResponse, err := stylist.GenerateTryOn(generation.PersonImagePath, []string{*generation.GarmentImagePath}, model)
	if err != nil {
		fmt.Printf("[Generation: %v] Error on generating try on: %v\n", payload.GenerationID, err)
		saveGenerationFail(db, generation, "Failed to generate your try-on, please try again", true)
		sentry.CaptureException(fmt.Errorf("[Generation: %v] Error on generating try on: %v", payload.GenerationID, err))
		return err
	}
	if llmResponse == nil {
		saveGenerationFail(db, generation, "Failed to generate your try-on, please try again", true)
		sentry.CaptureException(fmt.Errorf("[Generation: %v] Response is nil but no error provided", payload.GenerationID))
		return fmt.Errorf("[Generation: %v] Response is nil but no error provided", payload.GenerationID)
	}

	return finishGeneration(db, fbApp, generation, llmResponse, model.String(), startedAt)
}

// HandlePurgeGenerationsTask drops completed and failed generation rows older
// than a week so the device database does not keep accumulating result blobs.
func HandlePurgeGenerationsTask(ctx context.Context, t *asynq.Task, db *gorm.DB) error {
	cutoff := time.Now().AddDate(0, 0, -7)
	result := db.Where("status IN ? AND updated_at < ?", []string{"completed", "failed"}, cutoff).Delete(&models.Generation{})
	if result.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Purge] Error purging old generations: %v", result.Error))
		return result.Error
	}
	fmt.Printf("[Purge] Removed %d old generations\n", result.RowsAffected)
	return nil
}
