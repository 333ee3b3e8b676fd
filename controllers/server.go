package controllers

import (
	"context"
	"log"
	"net/http"
	"os"

	firebase "firebase.google.com/go/v4"
	"github.com/go-playground/validator"
	"github.com/hibiken/asynq"
	echojwt "github.com/labstack/echo-jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"roopapi/models"
	"roopapi/services"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		// Optionally, you could return the error to give each route more control over the status code
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func SetupServer(
	db *gorm.DB,
	googleService services.GoogleServiceProvider,
	awsService services.AWSServiceProvider,
	firebaseApp *firebase.App,
	asynqClient *asynq.Client,
	asynqInspector *asynq.Inspector,
	monitor *services.IdentityMonitor,
	repository *services.LookRepository,
	urlCache services.URLCacheServiceProvider,
	stylist services.StylistProvider,
) *echo.Echo {

	err := awsService.InitClient(context.Background())
	if err != nil {
		log.Fatal("Failed to initialize AWS provider: S3")
	}

	e := echo.New()
	v := validator.New()
	v.RegisterValidation("platform", models.ValidatePlatform)
	e.Validator = &CustomValidator{validator: v}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("__db", db)
			c.Set("__asynqclient", asynqClient)
			c.Set("__asynqinspector", asynqInspector)
			return next(c)
		}
	})

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	authGroup := e.Group("auth")
	authController := AuthController{Google: googleService, FirebaseApp: firebaseApp, Monitor: monitor}
	authController.AuthRoutes(authGroup)

	looksController := LooksController{
		Repository:  repository,
		AWSService:  awsService,
		URLCache:    urlCache,
		FirebaseApp: firebaseApp,
	}
	looksGroup := e.Group("looks", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), SessionMiddleware)
	looksController.LookRoutes(looksGroup)

	studioController := StudioController{
		Stylist:     stylist,
		AWSService:  awsService,
		FirebaseApp: firebaseApp,
	}
	studioGroup := e.Group("studio", echojwt.JWT([]byte(os.Getenv("JWT_SECRET"))), SessionMiddleware)
	studioController.StudioRoutes(studioGroup)

	return e
}
