package test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"google.golang.org/api/idtoken"
	"gorm.io/gorm"

	"roopapi/models"
	"roopapi/services"
)

func JsonString(model interface{}) string {
	bytes, _ := json.Marshal(model)
	return string(bytes)
}

func NewJSONRequest(method string, target string, param interface{}) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	return req
}

func GenerateSessionToken(sessionPk string, mode string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sessionPk,
		"mode": mode,
		"exp":  time.Now().Add(time.Hour * 72).Unix(),
		"iat":  time.Now().Unix(),
	})
	t, err := token.SignedString([]byte(os.Getenv("JWT_SECRET")))
	if err != nil {
		log.Fatalf("Error when signing session token for %s. Error %s ", sessionPk, err)
	}
	return t
}

func NewJSONAuthRequest(method string, target string, sessionPk string, mode string, param interface{}) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	token := GenerateSessionToken(sessionPk, mode)
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	return req
}

func NewRefString(data string) *string {
	return &data
}

// FakeSession creates an active session row the way the auth endpoints do.
func FakeSession(db *gorm.DB, provider string, userID string) *models.UserSession {
	session := &models.UserSession{
		UserID:    userID,
		Email:     "email@example.com",
		Name:      "OurName",
		AvatarURL: "pictureurl",
		Provider:  provider,
		LastIp:    "123.122.122.122",
		Platform:  models.PlatformIOS,
		Active:    true,
	}
	db.Create(&session)
	return session
}

type GoogleServiceMock struct{}

func (gsm GoogleServiceMock) ValidateIdToken(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error) {
	return &idtoken.Payload{Issuer: "Issue", Audience: "AAA", Expires: 119919191919, IssuedAt: 12312321321, Subject: "fake@example.com", Claims: map[string]interface{}{
		"email":   "fake@example.com",
		"picture": "pictureurl",
		"name":    "Fake Name",
		"sub":     "123googleid",
	}}, nil
}

type AWSProviderMock struct {
	MockUrl string
	// DeletedKeys records every blob key DeleteObject was asked to remove.
	DeletedKeys []string
}

func (awsService *AWSProviderMock) InitClient(ctx context.Context) error {
	return nil
}

func (awsService *AWSProviderMock) PresignLink(ctx context.Context, bucketName string, fileName string) (string, error) {
	return fmt.Sprintf("https://fakebucketurl.com/%s", fileName), nil
}

func (awsService *AWSProviderMock) GetPresignedR2FileReadURL(ctx context.Context, bucketName, fileKey string) (string, error) {
	if awsService.MockUrl != "" {
		return awsService.MockUrl, nil
	}
	return fmt.Sprintf("https://fakebucketurl.com/%s", fileKey), nil
}

func (awsService *AWSProviderMock) UploadToPresignedURL(ctx context.Context, bucketName, url string, fileContent []byte) (string, int, error) {
	return url, 200, nil
}

func (awsService *AWSProviderMock) DeleteObject(ctx context.Context, bucketName, fileKey string) error {
	awsService.DeletedKeys = append(awsService.DeletedKeys, fileKey)
	return nil
}

type URLCacheMock struct {
	MockUrl string
	Err     error
}

func (m URLCacheMock) GetReadURL(ctx context.Context, objectKey string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.MockUrl != "" {
		return m.MockUrl, nil
	}
	return fmt.Sprintf("https://fakebucketurl.com/%s", objectKey), nil
}

type StylistMock struct{}

func (m StylistMock) AnalyzeFace(selfiePath string, modelName services.LLMModelName) (*models.AnalysisResponse, *services.LLMResponse, error) {
	analysis := &models.AnalysisResponse{
		FaceAnalysis: models.FaceAnalysis{
			FaceShape:       "oval",
			HairType:        "wavy",
			CurrentStyle:    "long layers",
			SkinUndertone:   "warm",
			ConfidenceScore: 0.92,
		},
		RecommendedStyles: []models.HairstyleRecommendation{
			{StyleName: "Textured bob", Description: "Frames an oval face well", ConfidenceScore: 0.88, SalonDifficulty: "medium", MaintenanceLevel: "low"},
		},
	}
	return analysis, &services.LLMResponse{Response: JsonString(analysis), InputTokenCount: 10, TotalTokenCount: 11, OutputTokenCount: 13}, nil
}

func (m StylistMock) GenerateStylePreview(selfiePath string, styleName string, modelName services.LLMModelName) (*services.LLMResponse, error) {
	return &services.LLMResponse{Images: [][]byte{[]byte("fake-image-bytes")}, InputTokenCount: 10, TotalTokenCount: 11, OutputTokenCount: 13}, nil
}

func (m StylistMock) GenerateTryOn(personPath string, garmentPaths []string, modelName services.LLMModelName) (*services.LLMResponse, error) {
	return &services.LLMResponse{Images: [][]byte{[]byte("fake-tryon-bytes")}, InputTokenCount: 10, TotalTokenCount: 11, OutputTokenCount: 13}, nil
}

func (m StylistMock) ChatReply(history []models.ChatTurn, message string, modelName services.LLMModelName) (*services.LLMResponse, error) {
	return &services.LLMResponse{Response: "Try a side part with soft waves."}, nil
}

func (m StylistMock) ExpertAdvice(analysis *models.AnalysisResponse, question string, modelName services.LLMModelName) (*services.LLMResponse, error) {
	return &services.LLMResponse{Response: "Warm undertones pair well with golden highlights."}, nil
}

// FakeRemoteLookStore is an in-memory stand-in for the cloud adapter. Saves
// can be forced to fail through FailSave. Every successful mutation streams
// the resulting collection to subscribers, synchronously, the way the real
// snapshot feed does; PushSnapshot simulates a change from another device.
type FakeRemoteLookStore struct {
	mu          sync.Mutex
	Collections map[string][]models.Look
	FailSave    error
	FailDelete  error

	nextID      int
	subscribers map[int]subscriber
}

type subscriber struct {
	userID string
	fn     func([]models.Look)
}

func NewFakeRemoteLookStore() *FakeRemoteLookStore {
	return &FakeRemoteLookStore{
		Collections: map[string][]models.Look{},
		subscribers: map[int]subscriber{},
	}
}

func (s *FakeRemoteLookStore) Save(ctx context.Context, userID string, look models.Look) (models.Look, error) {
	s.mu.Lock()
	if s.FailSave != nil {
		err := s.FailSave
		s.mu.Unlock()
		return look, err
	}
	blobKey := fmt.Sprintf("users/%s/looks/%s.jpg", userID, look.ID)
	url := fmt.Sprintf("https://fakebucketurl.com/%s", blobKey)
	look.Payload = nil
	look.RemoteBlobKey = &blobKey
	look.RemoteURL = &url
	s.Collections[userID] = append([]models.Look{look}, s.Collections[userID]...)
	s.mu.Unlock()

	s.publish(userID)
	return look, nil
}

func (s *FakeRemoteLookStore) Delete(ctx context.Context, userID string, id string, blobKey *string) error {
	s.mu.Lock()
	if s.FailDelete != nil {
		err := s.FailDelete
		s.mu.Unlock()
		return err
	}
	kept := []models.Look{}
	for _, look := range s.Collections[userID] {
		if look.ID != id {
			kept = append(kept, look)
		}
	}
	s.Collections[userID] = kept
	s.mu.Unlock()

	s.publish(userID)
	return nil
}

func (s *FakeRemoteLookStore) Subscribe(userID string, onUpdate func([]models.Look)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subscribers[id] = subscriber{userID: userID, fn: onUpdate}
	looks := append([]models.Look{}, s.Collections[userID]...)
	s.mu.Unlock()

	onUpdate(looks)
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// PushSnapshot simulates a change arriving from another device.
func (s *FakeRemoteLookStore) PushSnapshot(userID string, looks []models.Look) {
	s.mu.Lock()
	s.Collections[userID] = looks
	s.mu.Unlock()
	s.publish(userID)
}

func (s *FakeRemoteLookStore) publish(userID string) {
	s.mu.Lock()
	looks := append([]models.Look{}, s.Collections[userID]...)
	fns := []func([]models.Look){}
	for _, sub := range s.subscribers {
		if sub.userID == userID {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(looks)
	}
}
