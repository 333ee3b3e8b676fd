package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"roopapi/models"
)

// LLMModelName is the GenAI model to use for the call.
type LLMModelName int32

const (
	Pro30 LLMModelName = iota
	Flash25
	Flash25Image
	Flash20
)

// The Stringer interface for LLMModelName.
func (t LLMModelName) String() string {
	switch t {
	case Pro30:
		return "gemini-3-pro-preview"
	case Flash25:
		return "gemini-2.5-flash"
	case Flash25Image:
		return "gemini-2.5-flash-image-preview"
	case Flash20:
		return "gemini-2.0-flash"
	default:
		return "gemini-2.0-flash"
	}
}

func floatPointer(f float32) *float32 {
	return &f
}

func Int32Pointer(i int32) *int32 {
	return &i
}

type LLMResponse struct {
	Response           string   `json:"response"`
	Images             [][]byte `json:"images,omitempty"`
	InputTokenCount    int32    `json:"input_token_count"`
	Thoughts           string   `json:"thoughts"`
	ThoughtsTokenCount int32    `json:"thoughts_token_count"`
	OutputTokenCount   int32    `json:"output_token_count"`
	TotalTokenCount    int32    `json:"total_token_count"`
	IsTest             bool     `json:"is_test"`
}

// StylistProvider is everything the app asks the model for: selfie analysis,
// hairstyle previews, garment try-ons and the chat surfaces.
type StylistProvider interface {
	AnalyzeFace(selfiePath string, modelName LLMModelName) (*models.AnalysisResponse, *LLMResponse, error)
	GenerateStylePreview(selfiePath string, styleName string, modelName LLMModelName) (*LLMResponse, error)
	GenerateTryOn(personPath string, garmentPaths []string, modelName LLMModelName) (*LLMResponse, error)
	ChatReply(history []models.ChatTurn, message string, modelName LLMModelName) (*LLMResponse, error)
	ExpertAdvice(analysis *models.AnalysisResponse, question string, modelName LLMModelName) (*LLMResponse, error)
}

type GoogleStylist struct{}

type ResponseWithThoughts struct {
	Thoughts string `json:"thoughts"`
	Text     string `json:"text"`
}

func newGenaiClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  os.Getenv("GOOGLE_API_KEY"),
		Backend: genai.BackendGeminiAPI,
	})
}

func tryUploadGoogleStorage(ctx context.Context, client *genai.Client, filePath string, newName *string) (*genai.File, error) {
	var genFile *genai.File
	var err error
	maxUploadTimes := 3
	for i := range maxUploadTimes {
		config := &genai.UploadFileConfig{}
		if newName != nil {
			config = &genai.UploadFileConfig{
				Name: *newName,
			}
		}

		genFile, err = client.Files.UploadFromPath(ctx, filePath, config)
		if err == nil {
			fmt.Println("File uploaded successfully:", filePath, "Attempt:", i+1)
			return genFile, nil
		}
		fmt.Printf("Error uploading file %s, attempt %d: %v\n", filePath, i+1, err)
	}
	return nil, fmt.Errorf("failed to upload file to google storage after %d attempts: %s", maxUploadTimes, filePath)
}

func uploadAll(ctx context.Context, client *genai.Client, filePaths []string) ([]*genai.Part, error) {
	var parts []*genai.Part
	for i, filePath := range filePaths {
		if filePath == "" {
			fmt.Println("File path empty in index:", i)
			continue
		}
		genFile, err := tryUploadGoogleStorage(ctx, client, filePath, nil)
		if err != nil {
			fmt.Println("Error uploading file:", filePath, err)
			return nil, fmt.Errorf("error uploading file %s: %v", filePath, err)
		}
		parts = append(parts, &genai.Part{
			FileData: &genai.FileData{
				FileURI:  genFile.URI,
				MIMEType: genFile.MIMEType,
			},
		})
	}
	return parts, nil
}

func GetAllInlineImages(result *genai.GenerateContentResponse) ([][]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("cannot read response")
	}

	var allImageData [][]byte

	for _, cand := range result.Candidates {
		for _, rating := range cand.SafetyRatings {
			if rating.Blocked {
				return nil, fmt.Errorf("content blocked by safety setting: %s", rating.Category)
			}
		}
		if cand.Content == nil || len(cand.Content.Parts) == 0 {
			continue
		}

		for _, part := range cand.Content.Parts {
			inlineData := part.InlineData
			if inlineData != nil {
				if strings.HasPrefix(inlineData.MIMEType, "image/") {
					if len(inlineData.Data) > 0 {
						allImageData = append(allImageData, inlineData.Data)
					}
				}
			}
		}
	}

	if len(allImageData) == 0 {
		return nil, nil
	}

	return allImageData, nil
}

func GetFirstCandidateTextWithThoughts(result *genai.GenerateContentResponse) (*ResponseWithThoughts, error) {
	var thinkingContent string
	for _, c := range result.Candidates {
		fmt.Println("Finish reason: ", c.FinishReason, " Finish message: ", c.FinishMessage)

		if len(c.SafetyRatings) > 0 {
			fmt.Println("[Safety] Safety ratings present:", len(c.SafetyRatings))
			for _, rating := range c.SafetyRatings {
				fmt.Println("[Safety] rating:", rating.Category, "Score:", rating.Probability, "Severity score:", rating.SeverityScore, " Blocked:", rating.Blocked)
				if rating.Blocked {
					return nil, fmt.Errorf("content violation: couldn't process the image, because it contains %s", rating.Category)
				}
			}
		}
		for _, part := range c.Content.Parts {
			if part.Thought && part.Text != "" {
				if result.UsageMetadata != nil && result.UsageMetadata.ThoughtsTokenCount > 25000 {
					fmt.Println("Warning: Thought content is too long:", result.UsageMetadata.ThoughtsTokenCount, part.Text)
				}
				thinkingContent = part.Text
				continue
			}
		}
	}
	return &ResponseWithThoughts{
		Thoughts: thinkingContent,
		Text:     result.Text(),
	}, nil
}

func llmResponseFrom(result *genai.GenerateContentResponse, withImages bool) (*LLMResponse, error) {
	var inputTokenCount int32
	var thoughtsTokenCount int32
	var outputTokenCount int32
	var totalTokenCount int32
	if result.UsageMetadata != nil {
		inputTokenCount = result.UsageMetadata.PromptTokenCount
		thoughtsTokenCount = result.UsageMetadata.ThoughtsTokenCount
		outputTokenCount = result.UsageMetadata.CandidatesTokenCount
		totalTokenCount = result.UsageMetadata.TotalTokenCount
		fmt.Println("Input token count:", inputTokenCount)
		fmt.Println("Output token count:", outputTokenCount)
		fmt.Println("Thoughts token count:", thoughtsTokenCount)
		fmt.Println("Total token count:", totalTokenCount)
	} else {
		fmt.Println("UsageMetadata is nil!")
	}

	if result.PromptFeedback != nil {
		fmt.Println(result.PromptFeedback.BlockReason)
		fmt.Println(result.PromptFeedback.BlockReasonMessage)
		fmt.Println(result.PromptFeedback.SafetyRatings)
		return nil, fmt.Errorf("content violation: %s", result.PromptFeedback.BlockReasonMessage)
	}

	fmt.Println("Number of candidates received:", len(result.Candidates))
	var images [][]byte
	if withImages {
		var err error
		images, err = GetAllInlineImages(result)
		if err != nil {
			fmt.Println("Error getting candidate images: ", err)
			return nil, fmt.Errorf("error getting candidate images: %v", err)
		}
		fmt.Println("Number of images extracted:", len(images))
	}

	llmResponseText, err := GetFirstCandidateTextWithThoughts(result)
	if err != nil {
		fmt.Println("Error getting first candidate text: ", err)
		fmt.Println(result.Candidates)
		return nil, fmt.Errorf("error getting first candidate text: %v", err)
	}

	return &LLMResponse{
		Response:           llmResponseText.Text,
		Images:             images,
		Thoughts:           llmResponseText.Thoughts,
		InputTokenCount:    inputTokenCount,
		ThoughtsTokenCount: thoughtsTokenCount,
		OutputTokenCount:   outputTokenCount,
		TotalTokenCount:    totalTokenCount,
		IsTest:             false,
	}, nil
}

// AnalyzeFace runs the structured selfie analysis and returns the parsed
// face shape, hair type and recommended styles.
func (GoogleStylist) AnalyzeFace(selfiePath string, modelName LLMModelName) (*models.AnalysisResponse, *LLMResponse, error) {
	ctx := context.Background()
	client, err := newGenaiClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	parts, err := uploadAll(ctx, client, []string{selfiePath})
	if err != nil {
		return nil, nil, err
	}
	parts = append(parts, &genai.Part{
		Text: "Analyze the person's face and hair in the image and recommend hairstyles that suit them.",
	})

	result, err := client.Models.GenerateContent(ctx, modelName.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		CandidateCount:   1,
		MaxOutputTokens:  50000,
		Temperature:      floatPointer(0.8),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `You are an expert hair stylist and colorist. Analyze the selfie and return the response in JSON format with the specified fields.
1. face_analysis: the person's face_shape (oval, round, square, heart, oblong, diamond), hair_type (straight, wavy, curly, coily), current_style, skin_undertone (warm, cool, neutral) and a confidence_score between 0 and 1.
2. recommended_styles: five hairstyles that flatter this face shape and hair type. For each return style_name, a short description of why it suits them, confidence_score between 0 and 1, salon_difficulty (easy, medium, hard) and maintenance_level (low, medium, high).
If no face is detected return confidence_score 0 and an empty recommended_styles array.`},
			},
		},
		ResponseSchema: &genai.Schema{
			Type: "object",
			Properties: map[string]*genai.Schema{
				"face_analysis": {
					Type: "object",
					Properties: map[string]*genai.Schema{
						"face_shape":       {Type: "string"},
						"hair_type":        {Type: "string"},
						"current_style":    {Type: "string"},
						"skin_undertone":   {Type: "string"},
						"confidence_score": {Type: "number"},
					},
					Required: []string{"face_shape", "hair_type", "confidence_score"},
				},
				"recommended_styles": {
					Type: "array",
					Items: &genai.Schema{
						Type: "object",
						Properties: map[string]*genai.Schema{
							"style_name":        {Type: "string"},
							"description":       {Type: "string"},
							"confidence_score":  {Type: "number"},
							"salon_difficulty":  {Type: "string"},
							"maintenance_level": {Type: "string"},
						},
						Required: []string{"style_name", "description"},
					},
				},
			},
			Required: []string{"face_analysis", "recommended_styles"},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return nil, nil, fmt.Errorf("%v", err)
	}

	llmResponse, err := llmResponseFrom(result, false)
	if err != nil {
		return nil, nil, err
	}

	var analysis models.AnalysisResponse
	if err := json.Unmarshal([]byte(llmResponse.Response), &analysis); err != nil {
		fmt.Println("Error parsing analysis JSON:", err, llmResponse.Response)
		return nil, llmResponse, fmt.Errorf("error parsing analysis response: %v", err)
	}
	return &analysis, llmResponse, nil
}

// GenerateStylePreview renders the person from the selfie with the requested
// hairstyle applied, keeping their facial identity unchanged.
func (GoogleStylist) GenerateStylePreview(selfiePath string, styleName string, modelName LLMModelName) (*LLMResponse, error) {
	ctx := context.Background()
	client, err := newGenaiClient(ctx)
	if err != nil {
		return nil, err
	}

	parts, err := uploadAll(ctx, client, []string{selfiePath})
	if err != nil {
		return nil, err
	}
	parts = append(parts, &genai.Part{
		Text: "Generate a hyper-realistic salon-quality portrait of the person from the image wearing the \"" + styleName + "\" hairstyle. Keep the facial identity, skin tone and head/body proportions exactly the same, unchanged. Only the hair changes. The lighting should be natural, soft and professional, high-resolution. Keep the original background. If no person detected: return \"NO_PERSON\", otherwise output only the edited portrait.",
	})

	result, err := client.Models.GenerateContent(ctx, modelName.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		CandidateCount:  1,
		MaxOutputTokens: 50000,
		Temperature:     floatPointer(1),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `If no person detected in the image return NO_PERSON as response. Edit only the hair, never the face.`},
			},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return nil, fmt.Errorf("%v", err)
	}

	return llmResponseFrom(result, true)
}

// GenerateTryOn dresses the person from the first image in the garments from
// the remaining images.
func (GoogleStylist) GenerateTryOn(personPath string, garmentPaths []string, modelName LLMModelName) (*LLMResponse, error) {
	ctx := context.Background()
	client, err := newGenaiClient(ctx)
	if err != nil {
		return nil, err
	}

	parts, err := uploadAll(ctx, client, append([]string{personPath}, garmentPaths...))
	if err != nil {
		return nil, err
	}

	result, err := client.Models.GenerateContent(ctx, modelName.String(), []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		CandidateCount:  1,
		MaxOutputTokens: 50000,
		Temperature:     floatPointer(1),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `Edit the first person image into a fashion-style full-body commercial head to toe portrait by keeping their identity, personality, placement in image in center, facial identity(100% same). Take all the images after the first one and let the same exact person from the first image wear them. For missing clothing items, keep the original ones the person wears. Keep facial identity exactly same, unchanged. By keeping same personality, identity and exact same body/hand/head/leg sizes - generate straight facing the camera, relaxed, confident pose. The lighting should be natural, soft and professional, high-resolution. Remove items from hands, position neutrally with slight smile. Clean all background elements, watermarks, other people/objects. If no person detected: return "NO_PERSON", otherwise output only the full-body person. Aspect ratio 9:16 portrait size`},
			},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return nil, fmt.Errorf("%v", err)
	}

	return llmResponseFrom(result, true)
}

// ChatReply answers one turn of the stylist chat given the prior history.
func (GoogleStylist) ChatReply(history []models.ChatTurn, message string, modelName LLMModelName) (*LLMResponse, error) {
	ctx := context.Background()
	client, err := newGenaiClient(ctx)
	if err != nil {
		return nil, err
	}

	var contents []*genai.Content
	for _, turn := range history {
		role := genai.RoleUser
		if turn.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Text}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: message}},
	})

	result, err := client.Models.GenerateContent(ctx, modelName.String(), contents, &genai.GenerateContentConfig{
		CandidateCount:  1,
		MaxOutputTokens: 8000,
		Temperature:     floatPointer(0.9),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `You are a friendly professional hair stylist and fashion consultant. Answer questions about hairstyles, hair care, coloring and outfit choices. Keep answers short, practical and encouraging. Politely decline topics outside styling.`},
			},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return nil, fmt.Errorf("%v", err)
	}

	return llmResponseFrom(result, false)
}

// ExpertAdvice answers a styling question grounded in the person's own
// analysis result when one is available.
func (GoogleStylist) ExpertAdvice(analysis *models.AnalysisResponse, question string, modelName LLMModelName) (*LLMResponse, error) {
	ctx := context.Background()
	client, err := newGenaiClient(ctx)
	if err != nil {
		return nil, err
	}

	prompt := question
	if analysis != nil {
		analysisJSON, err := json.Marshal(analysis)
		if err == nil {
			prompt = "My analysis profile: " + string(analysisJSON) + "\n\nQuestion: " + question
		}
	}

	result, err := client.Models.GenerateContent(ctx, modelName.String(), []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}},
	}, &genai.GenerateContentConfig{
		CandidateCount:  1,
		MaxOutputTokens: 8000,
		Temperature:     floatPointer(0.7),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: `You are an expert hair stylist. When an analysis profile is provided, ground every recommendation in the person's face shape, hair type and skin undertone from it. Be specific and practical.`},
			},
		},
	})
	if err != nil {
		fmt.Println("Error in GenerateContent:", err)
		return nil, fmt.Errorf("%v", err)
	}

	return llmResponseFrom(result, false)
}
