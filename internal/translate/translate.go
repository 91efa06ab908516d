// Package translate turns appeal reasons into the moderators' language.
package translate

import (
	"context"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/csnsor/bs-webpanel-sub000/internal/gateway"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
)

// Result keeps the original next to the translation.
type Result struct {
	Original   string
	Translated string
	// Language is the detected source language, "" when unknown.
	Language string
}

type Translator interface {
	Translate(ctx context.Context, text string) Result
}

// Noop returns the text unchanged.
type Noop struct{}

func (Noop) Translate(_ context.Context, text string) Result {
	return Result{Original: text, Translated: text}
}

// HTTPTranslator speaks the LibreTranslate /translate API. Failures fall
// back to the original text; translation never blocks a submission.
type HTTPTranslator struct {
	endpoint string
	apiKey   string
	target   string
	client   *retryablehttp.Client
}

func NewHTTPTranslator(endpoint, apiKey, target string, c *retryablehttp.Client) *HTTPTranslator {
	if target == "" {
		target = "en"
	}
	return &HTTPTranslator{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		target:   target,
		client:   c,
	}
}

type request struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type response struct {
	TranslatedText   string `json:"translatedText"`
	DetectedLanguage struct {
		Language   string  `json:"language"`
		Confidence float64 `json:"confidence"`
	} `json:"detectedLanguage"`
}

func (t *HTTPTranslator) Translate(ctx context.Context, text string) Result {
	res := Result{Original: text, Translated: text}
	if strings.TrimSpace(text) == "" {
		return res
	}
	var out response
	req := request{Q: text, Source: "auto", Target: t.target, Format: "text", APIKey: t.apiKey}
	if _, err := gateway.Do(ctx, t.client, http.MethodPost, t.endpoint+"/translate", nil, req, &out); err != nil {
		logger.Warningf("Translation failed, keeping original text: %v", err)
		return res
	}
	res.Language = out.DetectedLanguage.Language
	if out.TranslatedText != "" {
		res.Translated = out.TranslatedText
	}
	return res
}
