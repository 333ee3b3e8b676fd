package models

import "time"

const (
	LookKindHair  = "hair"
	LookKindCloth = "cloth"
)

// Look is one generated artifact in the user's collection. While the look
// only exists on the device, Payload carries the encoded image inline. Once
// it has been persisted remotely the payload is dropped and RemoteBlobKey
// points at the object in blob storage instead.
type Look struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mime_type"`
	Payload   []byte    `json:"payload,omitempty"`
	Kind      string    `json:"kind"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`

	// Set only for cloud-persisted looks.
	RemoteBlobKey *string `json:"remote_blob_key,omitempty"`
	RemoteURL     *string `json:"remote_url,omitempty"`
}

// Stored reports whether the pixel data lives in the remote blob store.
func (l Look) Stored() bool {
	return l.RemoteBlobKey != nil && *l.RemoteBlobKey != ""
}

// Generation tracks one style-preview or try-on job from submission through
// the worker finishing it. Inputs are temp files on the device, the result
// image is kept inline in the row until the user saves it as a Look.
type Generation struct {
	JsonModel
	Kind             string  `json:"kind"` // hair, cloth
	Label            string  `json:"label"`
	Status           string  `json:"status"` // pending, generating, completed, failed
	PersonImagePath  string  `json:"-"`
	GarmentImagePath *string `json:"-"`
	StyleName        *string `json:"style_name"`
	ResultMimeType   *string `json:"result_mime_type"`
	Result           []byte  `gorm:"type:blob" json:"-"`

	LLMModel            *string  `json:"llm_model"`
	LLMInputTokenCount  *int32   `json:"llm_input_token_count"`
	LLMOutputTokenCount *int32   `json:"llm_output_token_count"`
	LLMTotalTokenCount  *int32   `json:"llm_total_token_count"`
	Duration            *float64 `json:"duration"` // seconds

	GenerationRetryTimes   int     `json:"generation_retry_times"`
	GenerationErrorMessage *string `json:"generation_error_message"`
}

// DeviceSlot is a fixed-key blob slot in the device database. The whole local
// look collection is serialized into a single slot so a failed write never
// leaves a partially applied collection behind.
type DeviceSlot struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     []byte    `gorm:"type:blob" json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UserSession struct {
	JsonModel
	UserID    string   `gorm:"index" json:"user_id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	AvatarURL string   `json:"avatar_url"`
	Provider  string   `json:"provider"` // google, apple, guest
	LastIp    string   `json:"-"`
	Platform  Platform `sql:"type:ENUM('ios', 'android', 'web')" json:"platform"`
	Active    bool     `gorm:"default:false" json:"-"`
}

type UserPushToken struct {
	JsonModel
	Platform Platform `sql:"type:ENUM('ios', 'android', 'web')" json:"platform"`
	Token    string   `json:"token"`
	Active   bool     `gorm:"default:false" json:"-"`
}
