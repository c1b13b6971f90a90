package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kiara-intelligence/kiara/llm"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float(v float64) *float64 { return &v }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/api/v1",
		Model:   "deepseek/deepseek-chat",
		Referer: "https://kiara.ai",
		Title:   "Kiara Intelligence",
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)
}

func TestStreamSendsHeadersAndYieldsDeltas(t *testing.T) {
	var captured openai.ChatCompletionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "https://kiara.ai", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "Kiara Intelligence", r.Header.Get("X-Title"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Hello", ", ", "Maria"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		fmt.Fprint(w, "data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := client.Stream(context.Background(), &llm.Request{
		System:           "BASE",
		Messages:         []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
		MaxTokens:        2048,
		Temperature:      float(0.7),
		TopP:             float(0.95),
		PresencePenalty:  float(0.1),
		FrequencyPenalty: float(0.05),
	})
	require.NoError(t, err)
	defer stream.Close()

	var text strings.Builder
	sawStop := false
	for stream.Next() {
		event := stream.Event()
		if event.Delta != nil {
			text.WriteString(event.Delta.Text)
		}
		if event.Done {
			sawStop = true
		}
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, "Hello, Maria", text.String())
	assert.True(t, sawStop)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, captured.Messages[0].Role)
	assert.Equal(t, "BASE", captured.Messages[0].Content)
	assert.Equal(t, "deepseek/deepseek-chat", captured.Model)
	assert.Equal(t, 2048, captured.MaxTokens)
	assert.InDelta(t, 0.95, captured.TopP, 1e-6)
	assert.InDelta(t, 0.1, captured.PresencePenalty, 1e-6)
	assert.InDelta(t, 0.05, captured.FrequencyPenalty, 1e-6)
}

func TestSynchronousReturnsText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	})

	resp, err := client.Synchronous(context.Background(), &llm.Request{
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Text())
	assert.Equal(t, "stop", resp.StopReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(5), resp.Usage.InputTokens)
}

func TestErrorsAreConverted(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
		errType   llm.ErrorType
	}{
		{http.StatusTooManyRequests, true, llm.ErrorTypeRateLimit},
		{http.StatusBadRequest, false, llm.ErrorTypeInvalidRequest},
		{http.StatusBadGateway, true, llm.ErrorTypeProvider},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error":{"message":"boom","type":"error"}}`)
			})

			_, err := client.Stream(context.Background(), &llm.Request{
				Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
			})
			require.Error(t, err)
			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tc.errType, llmErr.Type)
			assert.Equal(t, tc.retryable, llm.IsRetryableError(err))
		})
	}
}

func TestToOpenAIMessageWithImage(t *testing.T) {
	msg := ToOpenAIMessage(llm.NewImageMessage("what is this?", "data:image/png;base64,AAAA"))
	assert.Equal(t, openai.ChatMessageRoleUser, msg.Role)
	assert.Empty(t, msg.Content)
	require.Len(t, msg.MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeText, msg.MultiContent[0].Type)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, msg.MultiContent[1].Type)
	assert.Equal(t, "data:image/png;base64,AAAA", msg.MultiContent[1].ImageURL.URL)
}

func TestToOpenAIMessageTextOnly(t *testing.T) {
	msg := ToOpenAIMessage(llm.NewTextMessage(llm.RoleAssistant, "done"))
	assert.Equal(t, openai.ChatMessageRoleAssistant, msg.Role)
	assert.Equal(t, "done", msg.Content)
	assert.Empty(t, msg.MultiContent)
}
