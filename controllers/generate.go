package controllers

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"roopapi/models"
	"roopapi/services"
	"roopapi/tasks"
)

// Request structs for validation
type AnalyzeIn struct {
	Selfie string `json:"selfie" validate:"required"` // base64
}

type StylePreviewIn struct {
	Selfie    string `json:"selfie" validate:"required"` // base64
	StyleName string `json:"style_name" validate:"required,max=200"`
}

type TryOnIn struct {
	Person  string `json:"person" validate:"required"`  // base64
	Garment string `json:"garment" validate:"required"` // base64
	Label   string `json:"label" validate:"omitempty,max=200"`
}

type ChatIn struct {
	Message string            `json:"message" validate:"required,max=4000"`
	History []models.ChatTurn `json:"history" validate:"omitempty,max=50"`
}

type AdviceIn struct {
	Question string                   `json:"question" validate:"required,max=4000"`
	Analysis *models.AnalysisResponse `json:"analysis"`
}

// Response structs
type GenerationStartedResponse struct {
	GenerationID uint   `json:"generation_id"`
	Status       string `json:"status"`
}

type GenerationStatusResponse struct {
	GenerationID uint    `json:"generation_id"`
	Kind         string  `json:"kind"`
	Label        string  `json:"label"`
	Status       string  `json:"status"`
	Result       *string `json:"result,omitempty"` // base64
	MimeType     *string `json:"mime_type,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type StudioController struct {
	Stylist     services.StylistProvider
	AWSService  services.AWSServiceProvider
	FirebaseApp *firebase.App
}

func (controller *StudioController) StudioRoutes(g *echo.Group) {
	g.POST("/analyze", controller.Analyze)
	g.POST("/hairstyle", controller.StartStylePreview)
	g.POST("/tryon", controller.StartTryOn)
	g.GET("/generations/:id", controller.GenerationStatus)
	g.POST("/chat", controller.Chat)
	g.POST("/advice", controller.Advice)
}

func decodeToTempFile(payload, filename string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("image is not valid base64: %v", err)
	}
	return services.CreateTempFile(decoded, filename)
}

// checkDailyLimit enforces the generation ceiling per calendar day.
func checkDailyLimit(db *gorm.DB) (bool, int64, error) {
	limit, err := strconv.ParseInt(services.GetEnv("DAILY_GENERATION_LIMIT", "25"), 10, 64)
	if err != nil {
		limit = 25
	}
	var dailyCount int64
	today := time.Now().UTC().Format("2006-01-02")
	if err := db.Model(&models.Generation{}).Where("DATE(created_at) = ?", today).Count(&dailyCount).Error; err != nil {
		return false, 0, err
	}
	return dailyCount < limit, dailyCount, nil
}

func (controller *StudioController) Analyze(c echo.Context) error {
	var req AnalyzeIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	selfiePath, err := decodeToTempFile(req.Selfie, "selfie.jpg")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	defer os.Remove(selfiePath)

	analysis, llmResponse, err := controller.Stylist.AnalyzeFace(selfiePath, services.Pro30)
	if err != nil {
		fmt.Println("Error analyzing selfie:", err)
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Could not analyze your selfie, please try again"})
	}
	fmt.Printf("[Studio] Analysis done, face shape: %s, styles: %v, TOT: %d\n", analysis.FaceAnalysis.FaceShape, len(analysis.RecommendedStyles), llmResponse.TotalTokenCount)

	return c.JSON(http.StatusOK, analysis)
}

func (controller *StudioController) StartStylePreview(c echo.Context) error {
	var req StylePreviewIn
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
	asynqClient, ok := c.Get("__asynqclient").(*asynq.Client)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Service is not available, please try again a bit later"})
	}

	allowed, dailyCount, err := checkDailyLimit(db)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get generation data"})
	}
	if !allowed {
		fmt.Printf("[Studio] Daily limit reached, generation count: %v\n", dailyCount)
		return c.JSON(http.StatusForbidden, map[string]string{"error": fmt.Sprintf("You have reached the limit of %v daily generations. Please wait for the next day.", dailyCount)})
	}

	selfiePath, err := decodeToTempFile(req.Selfie, "selfie.jpg")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	generation := models.Generation{
		Kind:            models.LookKindHair,
		Label:           req.StyleName,
		Status:          "pending",
		PersonImagePath: selfiePath,
		StyleName:       &req.StyleName,
	}
	if err := db.Create(&generation).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to start generation, please try again"})
	}

	task, err := tasks.NewStylePreviewTask(generation.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start generation, please try again"})
	}
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Queue("generate"))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start generation, please try again"})
	}
	fmt.Println("[Queue] Style preview task submitted, Generation ID: ", generation.ID, " Task ID: ", info.ID)

	return c.JSON(http.StatusCreated, GenerationStartedResponse{
		GenerationID: generation.ID,
		Status:       generation.Status,
	})
}

func (controller *StudioController) StartTryOn(c echo.Context) error {
	var req TryOnIn
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
	asynqClient, ok := c.Get("__asynqclient").(*asynq.Client)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Service is not available, please try again a bit later"})
	}

	allowed, dailyCount, err := checkDailyLimit(db)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get generation data"})
	}
	if !allowed {
		fmt.Printf("[Studio] Daily limit reached, generation count: %v\n", dailyCount)
		return c.JSON(http.StatusForbidden, map[string]string{"error": fmt.Sprintf("You have reached the limit of %v daily generations. Please wait for the next day.", dailyCount)})
	}

	personPath, err := decodeToTempFile(req.Person, "person.jpg")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	garmentPath, err := decodeToTempFile(req.Garment, "garment.jpg")
	if err != nil {
		os.Remove(personPath)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	generation := models.Generation{
		Kind:             models.LookKindCloth,
		Label:            req.Label,
		Status:           "pending",
		PersonImagePath:  personPath,
		GarmentImagePath: &garmentPath,
	}
	if err := db.Create(&generation).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to start generation, please try again"})
	}

	task, err := tasks.NewTryOnGenerationTask(generation.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start generation, please try again"})
	}
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Queue("generate"))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not start generation, please try again"})
	}
	fmt.Println("[Queue] Try on generation task submitted, Generation ID: ", generation.ID, " Task ID: ", info.ID)

	return c.JSON(http.StatusCreated, GenerationStartedResponse{
		GenerationID: generation.ID,
		Status:       generation.Status,
	})
}

func (controller *StudioController) GenerationStatus(c echo.Context) error {
	var generationId uint
	if err := echo.PathParamsBinder(c).Uint("id", &generationId).BindError(); err != nil {
		return echo.ErrBadRequest
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	var generation models.Generation
	result := db.First(&generation, generationId)
	if result.Error != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Generation not found"})
	}

	response := GenerationStatusResponse{
		GenerationID: generation.ID,
		Kind:         generation.Kind,
		Label:        generation.Label,
		Status:       generation.Status,
		MimeType:     generation.ResultMimeType,
		ErrorMessage: generation.GenerationErrorMessage,
		CreatedAt:    generation.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if generation.Status == "completed" && len(generation.Result) > 0 {
		encoded := base64.StdEncoding.EncodeToString(generation.Result)
		response.Result = &encoded
	}
	return c.JSON(http.StatusOK, response)
}

func (controller *StudioController) Chat(c echo.Context) error {
	var req ChatIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	llmResponse, err := controller.Stylist.ChatReply(req.History, req.Message, services.Flash25)
	if err != nil {
		fmt.Println("Error in stylist chat:", err)
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "The stylist is unavailable right now, please try again"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"reply": llmResponse.Response,
	})
}

func (controller *StudioController) Advice(c echo.Context) error {
	var req AdviceIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	llmResponse, err := controller.Stylist.ExpertAdvice(req.Analysis, req.Question, services.Pro30)
	if err != nil {
		fmt.Println("Error getting expert advice:", err)
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "The stylist is unavailable right now, please try again"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"advice": llmResponse.Response,
	})
}
