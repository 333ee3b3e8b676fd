package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"roopapi/dbhelper"
	"roopapi/models"
	"roopapi/services"
	"roopapi/test"
)

func TestAuthGoogle(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	monitor := services.NewIdentityMonitor()
	repository := services.NewLookRepository(monitor, &services.LocalLookStore{DB: db}, test.NewFakeRemoteLookStore())
	defer repository.Close()
	e := SetupServer(db, test.GoogleServiceMock{}, &test.AWSProviderMock{}, nil, nil, nil, monitor, repository, test.URLCacheMock{}, test.StylistMock{})

	param := models.GoogleAuthSignIn{
		IdToken:  "fake-google-id-token",
		Platform: "ios",
	}
	req := test.NewJSONRequest("POST", "/auth/google", param)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp models.SignInOut
	json.Unmarshal(rec.Body.Bytes(), &resp)

	assert.Equal(t, "123googleid", resp.UserID, resp)
	assert.Equal(t, "fake@example.com", resp.Email, resp)
	assert.Equal(t, "pictureurl", resp.Avatar, resp)
	assert.Equal(t, "authenticated", resp.Mode, resp)
	assert.NotEmpty(t, resp.AccessToken, resp)

	assert.Equal(t, models.StateAuthenticated, monitor.Mode().State)
	assert.Equal(t, "123googleid", monitor.Mode().UserID)

	var session models.UserSession
	db.First(&session, "provider = ?", "google")
	assert.Equal(t, "123googleid", session.UserID)
	assert.Equal(t, "fake@example.com", session.Email)
	assert.Equal(t, models.PlatformIOS, session.Platform)
	assert.True(t, session.Active)
}

func TestAuthGoogleBadPlatform(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	monitor := services.NewIdentityMonitor()
	repository := services.NewLookRepository(monitor, &services.LocalLookStore{DB: db}, test.NewFakeRemoteLookStore())
	defer repository.Close()
	e := SetupServer(db, test.GoogleServiceMock{}, &test.AWSProviderMock{}, nil, nil, nil, monitor, repository, test.URLCacheMock{}, test.StylistMock{})

	param := models.GoogleAuthSignIn{
		IdToken:  "fake-google-id-token",
		Platform: "windows",
	}
	req := test.NewJSONRequest("POST", "/auth/google", param)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, models.StateUnauthenticated, monitor.Mode().State)

	var count int64
	db.Model(&models.UserSession{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestAuthGuest(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	monitor := services.NewIdentityMonitor()
	repository := services.NewLookRepository(monitor, &services.LocalLookStore{DB: db}, test.NewFakeRemoteLookStore())
	defer repository.Close()
	e := SetupServer(db, test.GoogleServiceMock{}, &test.AWSProviderMock{}, nil, nil, nil, monitor, repository, test.URLCacheMock{}, test.StylistMock{})

	req := test.NewJSONRequest("POST", "/auth/guest", models.GuestSignIn{Platform: "android"})
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp models.SignInOut
	json.Unmarshal(rec.Body.Bytes(), &resp)
	assert.Equal(t, "guest", resp.Mode, resp)
	assert.NotEmpty(t, resp.AccessToken, resp)

	assert.Equal(t, models.StateGuest, monitor.Mode().State)

	var session models.UserSession
	db.First(&session, "provider = ?", "guest")
	assert.True(t, session.Active)
	assert.Equal(t, models.PlatformAndroid, session.Platform)
}

func TestAuthNewSessionDeactivatesPrevious(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	monitor := services.NewIdentityMonitor()
	repository := services.NewLookRepository(monitor, &services.LocalLookStore{DB: db}, test.NewFakeRemoteLookStore())
	defer repository.Close()
	e := SetupServer(db, test.GoogleServiceMock{}, &test.AWSProviderMock{}, nil, nil, nil, monitor, repository, test.URLCacheMock{}, test.StylistMock{})

	guest := test.FakeSession(db, "guest", "")

	req := test.NewJSONRequest("POST", "/auth/google", models.GoogleAuthSignIn{IdToken: "fake", Platform: "ios"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var priorSession models.UserSession
	db.First(&priorSession, guest.ID)
	assert.False(t, priorSession.Active)

	var activeCount int64
	db.Model(&models.UserSession{}).Where("active = ?", true).Count(&activeCount)
	assert.Equal(t, int64(1), activeCount)
}

func TestAuthMeAndLogout(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	monitor := services.NewIdentityMonitor()
	repository := services.NewLookRepository(monitor, &services.LocalLookStore{DB: db}, test.NewFakeRemoteLookStore())
	defer repository.Close()
	e := SetupServer(db, test.GoogleServiceMock{}, &test.AWSProviderMock{}, nil, nil, nil, monitor, repository, test.URLCacheMock{}, test.StylistMock{})

	session := test.FakeSession(db, "google", "123googleid")
	monitor.SetAuthenticated("123googleid")
	sessionPk := strconv.Itoa(int(session.ID))

	req := test.NewJSONAuthRequest("GET", "/auth/me", sessionPk, "authenticated", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var me map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &me)
	assert.Equal(t, "123googleid", me["user_id"])
	assert.Equal(t, "google", me["provider"])
	assert.Equal(t, "authenticated", me["mode"])

	req = test.NewJSONAuthRequest("POST", "/auth/logout", sessionPk, "authenticated", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var closed models.UserSession
	db.First(&closed, session.ID)
	assert.False(t, closed.Active)
	assert.Equal(t, models.StateUnauthenticated, monitor.Mode().State)

	// The token no longer opens protected routes.
	req = test.NewJSONAuthRequest("GET", "/auth/me", sessionPk, "authenticated", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthPushTokens(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	monitor := services.NewIdentityMonitor()
	repository := services.NewLookRepository(monitor, &services.LocalLookStore{DB: db}, test.NewFakeRemoteLookStore())
	defer repository.Close()
	e := SetupServer(db, test.GoogleServiceMock{}, &test.AWSProviderMock{}, nil, nil, nil, monitor, repository, test.URLCacheMock{}, test.StylistMock{})

	session := test.FakeSession(db, "google", "123googleid")
	sessionPk := strconv.Itoa(int(session.ID))

	param := models.UserPushIn{Token: "fcm-token-abc", Platform: "ios"}
	req := test.NewJSONAuthRequest("POST", "/auth/register-push", sessionPk, "authenticated", param)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var pushToken models.UserPushToken
	db.First(&pushToken, "token = ?", "fcm-token-abc")
	assert.Equal(t, models.PlatformIOS, pushToken.Platform)
	assert.True(t, pushToken.Active)

	// Registering the same token again does not duplicate it.
	req = test.NewJSONAuthRequest("POST", "/auth/register-push", sessionPk, "authenticated", param)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var count int64
	db.Model(&models.UserPushToken{}).Count(&count)
	assert.Equal(t, int64(1), count)

	req = test.NewJSONAuthRequest("POST", "/auth/delete-push", sessionPk, "authenticated", param)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	db.Model(&models.UserPushToken{}).Count(&count)
	assert.Equal(t, int64(0), count)
}
