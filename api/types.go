// Package api defines the request and response types of the lumen HTTP
// API and a streaming client for it.
package api

import (
	"fmt"
	"time"
)

// StatusError is raised when the server returns a non-success status.
type StatusError struct {
	StatusCode   int    `json:"-"`
	Status       string `json:"-"`
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the lumen server logs for details"
	}
}

// ImageData is raw image bytes; it marshals as base64 in JSON.
type ImageData []byte

// GenerateRequest describes a request sent by [Client.Generate]. Model and
// Prompt are required; the other fields have reasonable defaults.
type GenerateRequest struct {
	// Model is the model name, resolved under the models directory.
	Model string `json:"model"`

	// Prompt is the text to generate an image for.
	Prompt string `json:"prompt"`

	// NegativePrompt steers the unconditional guidance branch away from
	// its content. Empty by default.
	NegativePrompt string `json:"negative_prompt,omitempty"`

	// Resolution indexes the supported resolution table. Defaults to the
	// square bucket.
	Resolution *int `json:"resolution,omitempty"`

	// GuidanceScale is the classifier-free guidance strength. Defaults
	// to 7.5.
	GuidanceScale *float64 `json:"guidance_scale,omitempty"`

	// Steps is the number of denoising steps. Defaults to 30.
	Steps int `json:"steps,omitempty"`

	// Seed fixes the initial noise draw. Zero draws a random seed.
	Seed int64 `json:"seed,omitempty"`
}

// ListResponse is the response from [Client.List].
type ListResponse struct {
	Models []ListModelResponse `json:"models"`
}

// ListModelResponse is one model in [ListResponse].
type ListModelResponse struct {
	Name string `json:"name"`
}

// GenerateResponse is one streamed progress or completion record.
type GenerateResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`

	// Status describes the current stage while the request runs.
	Status string `json:"status,omitempty"`

	// Step and TotalSteps report sampling progress.
	Step       int `json:"step,omitempty"`
	TotalSteps int `json:"total_steps,omitempty"`

	// Images holds the finished images, PNG encoded; set when Done.
	Images []ImageData `json:"images,omitempty"`
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
	Seed   int64       `json:"seed,omitempty"`

	Done bool `json:"done"`
}
