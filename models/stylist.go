package models

// FaceAnalysis is the structured result of the selfie analysis step.
type FaceAnalysis struct {
	FaceShape       string  `json:"face_shape"`
	HairType        string  `json:"hair_type"`
	CurrentStyle    string  `json:"current_style"`
	SkinUndertone   string  `json:"skin_undertone"`
	ConfidenceScore float64 `json:"confidence_score"`
}

type HairstyleRecommendation struct {
	StyleName        string  `json:"style_name"`
	Description      string  `json:"description"`
	ConfidenceScore  float64 `json:"confidence_score"`
	SalonDifficulty  string  `json:"salon_difficulty"`  // easy, medium, hard
	MaintenanceLevel string  `json:"maintenance_level"` // low, medium, high
}

type AnalysisResponse struct {
	FaceAnalysis      FaceAnalysis              `json:"face_analysis"`
	RecommendedStyles []HairstyleRecommendation `json:"recommended_styles"`
}

// ChatTurn is one prior exchange in the stylist chat, oldest first.
type ChatTurn struct {
	Role string `json:"role"` // user, model
	Text string `json:"text"`
}
