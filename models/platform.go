package models

import "github.com/go-playground/validator"

// Platform is the client platform a session or push token came from.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

func (p *Platform) Scan(value interface{}) error {
	*p = Platform(value.(string))
	return nil
}

func (p Platform) Value() string {
	return string(p)
}

func ScanPlatform(value string) Platform {
	return Platform(value)
}

// ValidatePlatformRaw checks a raw request value before it is scanned into
// the Platform type.
func ValidatePlatformRaw(value string) bool {
	switch Platform(value) {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// ValidatePlatform is the validator hook registered as the "platform" tag.
func ValidatePlatform(fl validator.FieldLevel) bool {
	return ValidatePlatformRaw(fl.Field().String())
}
