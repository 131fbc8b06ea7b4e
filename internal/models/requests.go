// internal/models/requests.go
package models

// GenerateStoryboardRequest is the body of POST /generate-storyboard
type GenerateStoryboardRequest struct {
	Prompt    string `json:"prompt"`
	Style     string `json:"style"`
	Character string `json:"character"`
	Camera    string `json:"camera"`
}

// RegenerateSceneRequest is the body of POST /regenerate-scene
type RegenerateSceneRequest struct {
	Scene     Scene  `json:"scene"`
	Style     string `json:"style"`
	Character string `json:"character"`
}

// RegenerateShotRequest is the body of POST /regenerate-shot
type RegenerateShotRequest struct {
	Shot      Shot   `json:"shot"`
	Style     string `json:"style"`
	Character string `json:"character"`
}

// AddShotRequest is the body of POST /add-shot
type AddShotRequest struct {
	Description string  `json:"description"`
	FrameNumber Ordinal `json:"frame_number"`
	Style       string  `json:"style"`
	Character   string  `json:"character"`
	Camera      string  `json:"camera"`
}

// PromptSettings are the values the presentation shell collects from the user
// and reuses for every follow-up request in a session.
type PromptSettings struct {
	Prompt    string `json:"prompt"`
	Style     string `json:"style"`
	Character string `json:"character"`
	Camera    string `json:"camera"`
}
