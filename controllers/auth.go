package controllers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	firebase "firebase.google.com/go/v4"
	apple "github.com/Timothylock/go-signin-with-apple/apple"
	"github.com/getsentry/sentry-go"
	echojwt "github.com/labstack/echo-jwt"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"roopapi/models"
	"roopapi/services"
)

type AuthController struct {
	Google      services.GoogleServiceProvider
	FirebaseApp *firebase.App
	Monitor     *services.IdentityMonitor
}

// startSession deactivates whatever session was active and creates the new
// one. Only one session drives the repository at a time.
func startSession(db *gorm.DB, session *models.UserSession) error {
	if err := db.Model(&models.UserSession{}).Where("active = ?", true).Update("active", false).Error; err != nil {
		return err
	}
	session.Active = true
	return db.Create(session).Error
}

func (m *AuthController) AuthRoutes(g *echo.Group) {
	g.POST("/google", func(c echo.Context) (err error) {
		googleCreds := new(models.GoogleAuthSignIn)
		if err := c.Bind(googleCreds); err != nil {
			return err
		}
		if !models.ValidatePlatformRaw(googleCreds.Platform) {
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Please provide proper platform parameter"})
		}
		if err = c.Validate(googleCreds); err != nil {
			return err
		}

		payload, err := m.Google.ValidateIdToken(context.Background(), googleCreds.IdToken, os.Getenv("GOOGLE_CLIENT_ID"))
		if err != nil {
			fmt.Println(err)
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't verify credentials"})
		}
		sub, ok := payload.Claims["sub"]
		if !ok {
			sentry.CaptureMessage(fmt.Sprintf("Error when fetching user data %s", payload.Claims))
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't verify credentials"})
		}
		var googleId string = sub.(string)

		googleEmail, _ := payload.Claims["email"].(string)
		pictureUrl, _ := payload.Claims["picture"].(string)
		googleName, _ := payload.Claims["name"].(string)

		db := c.Get("__db").(*gorm.DB)
		session := &models.UserSession{
			UserID:    googleId,
			Email:     googleEmail,
			Name:      googleName,
			AvatarURL: pictureUrl,
			Provider:  "google",
			LastIp:    c.RealIP(),
			Platform:  models.ScanPlatform(googleCreds.Platform),
		}
		if err := startSession(db, session); err != nil {
			sentry.CaptureException(err)
			return echo.ErrInternalServerError
		}

		m.Monitor.SetAuthenticated(googleId)
		fmt.Println("Signed in with google: ", googleEmail, googleId)
		return c.JSON(http.StatusOK, models.SignInOut{
			UserID:      googleId,
			Name:        googleName,
			Email:       googleEmail,
			Avatar:      pictureUrl,
			Mode:        m.Monitor.Mode().State.String(),
			AccessToken: GenerateSessionToken(UIntToStr(session.ID), "authenticated", c, 72),
		})
	})

	g.POST("/apple", func(c echo.Context) error {
		var req models.AppleAuthRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		}
		if !models.ValidatePlatformRaw(req.Platform) {
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Please provide proper platform parameter"})
		}

		teamID := services.GetEnv("APPLE_TEAM_ID", "")
		keyID := services.GetEnv("APPLE_KEY_ID", "")
		// ClientID is the "Services ID" value that you get when navigating to your "sign in with Apple"-enabled service ID
		clientID := services.GetEnv("APPLE_CLIENT_ID", "com.roopai.app")

		// The contents of the p8 file/key you downloaded when you made the key in the portal
		secret, err := services.DecodeBase64EnvPrivateKey("APPLE_SIGNIN_PKEY_BASE64")
		if err != nil {
			log.Println("Error getting Apple private key:", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
		secret, err = apple.GenerateClientSecret(secret, teamID, clientID, keyID)
		client := apple.New()

		vReq := apple.AppValidationTokenRequest{
			ClientID:     clientID,
			ClientSecret: secret,
			Code:         req.AuthorizationCode,
		}

		var resp apple.ValidationResponse
		err = client.VerifyAppToken(context.Background(), vReq, &resp)
		if err != nil {
			fmt.Println("error verifying: " + err.Error())
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't verify credentials"})
		}
		if resp.Error != "" {
			fmt.Printf("apple returned an error: %s - %s\n", resp.Error, resp.ErrorDescription)
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't verify credentials through Apple"})
		}

		unique, err := apple.GetUniqueID(resp.IDToken)
		if err != nil {
			fmt.Println("failed to get unique ID: " + err.Error())
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't get your unique identifier"})
		}

		claim, err := apple.GetClaims(resp.IDToken)
		if err != nil {
			fmt.Println("failed to get claims: " + err.Error())
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Couldn't get your information"})
		}
		appleEmail, ok := (*claim)["email"].(string)
		if !ok {
			fmt.Println(fmt.Sprintf("[Apple signin] no email in token %s", claim))
		}

		db := c.Get("__db").(*gorm.DB)
		session := &models.UserSession{
			UserID:   unique,
			Email:    appleEmail,
			Name:     appleEmail,
			Provider: "apple",
			LastIp:   c.RealIP(),
			Platform: models.ScanPlatform(req.Platform),
		}
		if err := startSession(db, session); err != nil {
			sentry.CaptureException(err)
			return echo.ErrInternalServerError
		}

		m.Monitor.SetAuthenticated(unique)
		fmt.Println("Signed in with apple: ", appleEmail, unique)
		return c.JSON(http.StatusOK, models.SignInOut{
			UserID:      unique,
			Name:        appleEmail,
			Email:       appleEmail,
			Mode:        m.Monitor.Mode().State.String(),
			AccessToken: GenerateSessionToken(UIntToStr(session.ID), "authenticated", c, 72),
		})
	})

	g.POST("/guest", func(c echo.Context) error {
		guestIn := new(models.GuestSignIn)
		if err := c.Bind(guestIn); err != nil {
			return err
		}
		if !models.ValidatePlatformRaw(guestIn.Platform) {
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Please provide proper platform parameter"})
		}

		db := c.Get("__db").(*gorm.DB)
		session := &models.UserSession{
			Name:     "Guest",
			Provider: "guest",
			LastIp:   c.RealIP(),
			Platform: models.ScanPlatform(guestIn.Platform),
		}
		if err := startSession(db, session); err != nil {
			sentry.CaptureException(err)
			return echo.ErrInternalServerError
		}

		m.Monitor.SetGuest()
		fmt.Println("Guest session started, session id:", session.ID)
		return c.JSON(http.StatusOK, models.SignInOut{
			Name:        "Guest",
			Mode:        m.Monitor.Mode().State.String(),
			AccessToken: GenerateSessionToken(UIntToStr(session.ID), "guest", c, 72),
		})
	})

	g.GET("/me", func(c echo.Context) error {
		session := c.Get("currentSession").(models.UserSession)
		return c.JSON(http.StatusOK, echo.Map{
			"user_id":  session.UserID,
			"name":     session.Name,
			"email":    session.Email,
			"avatar":   session.AvatarURL,
			"provider": session.Provider,
			"mode":     m.Monitor.Mode().State.String(),
		})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), SessionMiddleware)

	g.POST("/logout", func(c echo.Context) error {
		session := c.Get("currentSession").(models.UserSession)
		db := c.Get("__db").(*gorm.DB)
		session.Active = false
		db.Save(&session)

		m.Monitor.SetUnauthenticated()
		fmt.Println("Session closed, session id:", session.ID)
		return c.JSON(http.StatusOK, echo.Map{
			"message": "logged out",
		})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), SessionMiddleware)

	g.POST("/register-push", func(c echo.Context) error {
		db := c.Get("__db").(*gorm.DB)
		var tokenRequest = new(models.UserPushIn)
		if err := c.Bind(tokenRequest); err != nil {
			return err
		}
		if !models.ValidatePlatformRaw(string(tokenRequest.Platform)) {
			return c.JSON(http.StatusForbidden, map[string]interface{}{"message": "Please provide proper platform parameter"})
		}
		var pushData models.UserPushToken = models.UserPushToken{
			Platform: models.ScanPlatform(tokenRequest.Platform),
			Token:    tokenRequest.Token,
			Active:   true,
		}

		result := db.Where("token = ?", tokenRequest.Token).FirstOrCreate(&pushData)
		if result.Error != nil {
			log.Println(result.Error)
			return echo.ErrInternalServerError
		}
		if result.RowsAffected >= 1 {
			fmt.Println("Push token created, Platform: ", tokenRequest.Platform)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"message": "registered",
			"push_id": pushData.ID,
		})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), SessionMiddleware)

	g.POST("/delete-push", func(c echo.Context) error {
		db := c.Get("__db").(*gorm.DB)
		var tokenRequest = new(models.UserPushIn)
		if err := c.Bind(tokenRequest); err != nil {
			return err
		}

		result := db.Where("token = ?", tokenRequest.Token).Delete(&models.UserPushToken{})
		if result.Error != nil {
			log.Println(result.Error)
			return echo.ErrInternalServerError
		}
		return c.JSON(http.StatusOK, echo.Map{
			"message": "deleted",
			"deleted": result.RowsAffected > 0,
		})
	}, echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), SessionMiddleware)
}
