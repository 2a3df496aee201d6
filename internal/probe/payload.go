/*
PURPOSE:
  Wire shapes of the chat-completion API and the payload hash used in logs and reports.

IMPLEMENTATION RULES:
  - A base URL ending in /v1 is not doubled.
  - The hash covers the exact bytes sent.
*/

package probe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// hashLength is the number of hex characters kept from the payload digest.
const hashLength = 16

// ChatMessage is one message of an OpenAI-compatible chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body POSTed to /v1/chat/completions.
type ChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens"`
}

// chatResponse is the non-streaming response shape.
type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// streamChunk is one streamed delta.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// NewChatRequest builds the single-message request every probe sends.
func NewChatRequest(modelID, prompt string, maxTokens int, stream bool) ChatRequest {
	return ChatRequest{
		Model:     modelID,
		Messages:  []ChatMessage{{Role: "user", Content: prompt}},
		Stream:    stream,
		MaxTokens: maxTokens,
	}
}

// PayloadHash returns a truncated sha256 of the payload bytes.
// Identical bytes always produce the same hash.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:hashLength]
}

// ChatURL returns the chat-completions endpoint for a base URL, with or without a /v1 suffix.
func ChatURL(baseURL string) string {
	return APIBase(baseURL) + "/chat/completions"
}

// APIBase normalises a base URL so it ends in /v1 exactly once.
func APIBase(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// parseCompletion extracts choices[0].message.content from a non-streaming body.
func parseCompletion(body []byte) (string, bool) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return "", false
	}
	return *resp.Choices[0].Message.Content, true
}

// parseDelta extracts the incremental text of one streamed chunk.
// Malformed chunks yield "" and are otherwise ignored.
func parseDelta(data string) string {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, choice := range chunk.Choices {
		sb.WriteString(choice.Delta.Content)
	}
	return sb.String()
}
