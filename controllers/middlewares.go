package controllers

import (
	"fmt"
	"log"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"roopapi/models"
)

func SessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		db := c.Get("__db").(*gorm.DB)
		userRaw := c.Get("user")
		if userRaw == nil {
			return echo.ErrUnauthorized
		}
		token := userRaw.(*jwt.Token)
		claims := token.Claims.(jwt.MapClaims)
		sessionId := claims["sub"]
		if sessionId == nil || sessionId == "" {
			log.Println("Error while getting the token information!")
			return echo.ErrUnauthorized
		}

		var session models.UserSession
		result := db.First(&session, sessionId)
		if result.Error != nil {
			log.Println("Error fetching session", sessionId, result.Error)
			return echo.ErrUnauthorized
		}
		if !session.Active {
			fmt.Println("Inactive session presented a token, session id:", session.ID)
			return echo.ErrUnauthorized
		}

		c.Set("currentSession", session)
		fmt.Printf("Fetched session %v provider: %s \n", session.ID, session.Provider)
		return next(c)
	}
}
