package controllers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"roopapi/models"
	"roopapi/services"
)

// Request structs for validation
type SaveLookIn struct {
	GenerationID *uint   `json:"generation_id"`
	Payload      *string `json:"payload" validate:"omitempty,max=6200000"` // base64
	MimeType     string  `json:"mime_type" validate:"omitempty,max=100"`
	Kind         string  `json:"kind" validate:"required,oneof=hair cloth"`
	Label        string  `json:"label" validate:"omitempty,max=200"`
}

// Response structs
type LookResponse struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Label     string  `json:"label"`
	MimeType  string  `json:"mime_type"`
	Stored    bool    `json:"stored"`
	Uri       *string `json:"uri,omitempty"`
	Payload   *string `json:"payload,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type LookSavedResponse struct {
	Look     LookResponse `json:"look"`
	Backend  string       `json:"backend"`
	Fallback bool         `json:"fallback"`
	Warning  *string      `json:"warning,omitempty"`
}

type LooksListResponse struct {
	Hair  []LookResponse `json:"hair"`
	Cloth []LookResponse `json:"cloth"`
}

type LooksController struct {
	Repository  *services.LookRepository
	AWSService  services.AWSServiceProvider
	URLCache    services.URLCacheServiceProvider
	FirebaseApp *firebase.App
}

func (controller *LooksController) LookRoutes(g *echo.Group) {
	g.POST("/save", controller.SaveLook)
	g.GET("/list", controller.ListLooks)
	g.DELETE("/:id", controller.DeleteLook)
}

func (controller *LooksController) SaveLook(c echo.Context) error {
	var req SaveLookIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	look := models.Look{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Label:     req.Label,
		MimeType:  req.MimeType,
		CreatedAt: time.Now().UTC(),
	}

	if req.GenerationID != nil {
		var generation models.Generation
		result := db.First(&generation, *req.GenerationID)
		if result.Error != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Generation not found"})
		}
		if generation.Status != "completed" || len(generation.Result) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Generation is not ready yet, status: %s", generation.Status)})
		}
		look.Payload = generation.Result
		if generation.ResultMimeType != nil {
			look.MimeType = *generation.ResultMimeType
		}
		if look.Label == "" {
			look.Label = generation.Label
		}
	} else if req.Payload != nil && *req.Payload != "" {
		decoded, err := base64.StdEncoding.DecodeString(*req.Payload)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Payload is not valid base64"})
		}
		look.Payload = decoded
	} else {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Either generation_id or payload must be provided"})
	}

	result, err := controller.Repository.Save(c.Request().Context(), look)
	if err != nil {
		if errors.Is(err, models.ErrNoActiveSession) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Sign in or continue as guest to save looks"})
		}
		if errors.Is(err, models.ErrCapacityExceeded) {
			return c.JSON(http.StatusInsufficientStorage, map[string]string{"error": "Device storage for looks is full, delete some looks or sign in"})
		}
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save your look, please try again"})
	}

	response := LookSavedResponse{
		Look: LookResponse{
			ID:        look.ID,
			Kind:      look.Kind,
			Label:     look.Label,
			MimeType:  look.MimeType,
			Stored:    result.Backend == services.BackendRemote,
			CreatedAt: look.CreatedAt.Format("2006-01-02T15:04:05Z"),
		},
		Backend:  result.Backend,
		Fallback: result.Fallback,
	}
	if result.Fallback {
		fmt.Println("[Looks] Remote save fell back to device storage for look", look.ID, "remote error:", result.RemoteErr)
		response.Warning = StrPointer("Your look was saved on this device only and will not sync until the connection recovers")
	}
	return c.JSON(http.StatusCreated, response)
}

// populatePresignedLookImages enriches stored looks with presigned read URLs
// concurrently. This version includes a failsafe for when the cache system
// itself fails.
func (controller *LooksController) populatePresignedLookImages(c echo.Context, looks []models.Look) []LookResponse {
	if len(looks) == 0 {
		return []LookResponse{}
	}

	ctx := c.Request().Context()
	var wg sync.WaitGroup
	processedResponses := make([]LookResponse, len(looks))
	bucketName := services.GetEnv("R2_BUCKET_NAME", "")

	for i, lookItem := range looks {
		wg.Add(1)
		go func(index int, item models.Look) {
			defer wg.Done()

			var imageUrl *string
			var payload *string
			if item.Stored() {
				objectKey := *item.RemoteBlobKey

				url, err := controller.URLCache.GetReadURL(ctx, objectKey)
				if err == nil {
					imageUrl = &url
				} else {
					log.Printf("CACHE WARNING: Cache system failed for key '%s': %v. Triggering manual R2 fallback.", objectKey, err)
					sentry.WithScope(func(scope *sentry.Scope) {
						scope.SetTag("failure_type", "cache_system")
						scope.SetExtra("objectKey", objectKey)
						sentry.CaptureException(err)
					})

					fallbackUrl, fallbackErr := controller.AWSService.GetPresignedR2FileReadURL(ctx, bucketName, objectKey)
					if fallbackErr != nil {
						log.Printf("CRITICAL: Manual R2 fallback also failed for key '%s': %v", objectKey, fallbackErr)
						sentry.CaptureException(fallbackErr)
						// imageUrl stays empty, but we don't fail the entire request.
					} else {
						imageUrl = &fallbackUrl
					}
				}
			} else if len(item.Payload) > 0 {
				encoded := base64.StdEncoding.EncodeToString(item.Payload)
				payload = &encoded
			}
			processedResponses[index] = LookResponse{
				ID:        item.ID,
				Kind:      item.Kind,
				Label:     item.Label,
				MimeType:  item.MimeType,
				Stored:    item.Stored(),
				Uri:       imageUrl,
				Payload:   payload,
				CreatedAt: item.CreatedAt.Format("2006-01-02T15:04:05Z"),
			}
		}(i, lookItem)
	}

	wg.Wait()
	return processedResponses
}

func (controller *LooksController) ListLooks(c echo.Context) error {
	looks := controller.Repository.List()
	processedResponses := controller.populatePresignedLookImages(c, looks)

	response := LooksListResponse{
		Hair:  []LookResponse{},
		Cloth: []LookResponse{},
	}
	for _, resp := range processedResponses {
		switch resp.Kind {
		case models.LookKindHair:
			response.Hair = append(response.Hair, resp)
		case models.LookKindCloth:
			response.Cloth = append(response.Cloth, resp)
		}
	}

	return c.JSON(http.StatusOK, response)
}

func (controller *LooksController) DeleteLook(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Look id is required"})
	}

	err := controller.Repository.Delete(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNoActiveSession) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Sign in or continue as guest to manage looks"})
		}
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete the look, please try again"})
	}

	fmt.Println("[Looks] Deleted look", id)
	return c.JSON(http.StatusOK, echo.Map{
		"message": "deleted",
		"id":      id,
	})
}
