package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/registry"
)

func event(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", content)
}

func testProvider(endpoint string) registry.ProviderConfig {
	return registry.ProviderConfig{
		Key:        "TEST",
		Name:       "Test",
		Endpoint:   endpoint,
		Credential: "sk-test",
		Model:      "test-model",
		Strategy:   registry.StrategyOpenAISystem,
	}
}

func newTestTransport() *Transport {
	return NewTransport(logging.Discard())
}

func drain(t *testing.T, s *Stream) []string {
	t.Helper()
	var out []string
	for {
		inc, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, inc.Content)
	}
}

func TestOpenSendsStreamingChatRequest(t *testing.T) {
	var got map[string]interface{}
	var auth, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		accept = r.Header.Get("Accept")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, event("hello world"))
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := newTestTransport().Open(context.Background(), testProvider(srv.URL), "Tell me about the Milky Way")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"hello world"}, drain(t, stream))
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "text/event-stream", accept)
	assert.Equal(t, "test-model", got["model"])
	assert.Equal(t, true, got["stream"])

	messages := got["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	user := messages[1].(map[string]interface{})
	assert.Equal(t, "user", user["role"])
	assert.Equal(t, "Tell me about the Milky Way", user["content"])
	assert.NotContains(t, got, "temperature")
}

func TestUserOnlyAndTunedPayloads(t *testing.T) {
	cfg := testProvider("https://example.com/v1/chat/completions")

	userOnly := DefaultStrategies()[registry.StrategyOpenAI].(*ChatStrategy).Payload(cfg, "hi")
	require.Len(t, userOnly.Messages, 1)
	assert.Equal(t, "user", userOnly.Messages[0].Role)
	assert.True(t, userOnly.Stream)

	tuned := DefaultStrategies()[registry.StrategyTuned].(*ChatStrategy).Payload(cfg, "hi")
	require.Len(t, tuned.Messages, 2)
	require.NotNil(t, tuned.MaxTokens)
	assert.Equal(t, 1024, *tuned.MaxTokens)
	require.NotNil(t, tuned.TopP)
	assert.InDelta(t, 0.7, *tuned.TopP, 1e-6)
	require.NotNil(t, tuned.Temperature)
	assert.InDelta(t, 0.2, *tuned.Temperature, 1e-6)

	temp := float32(0.9)
	cfg.Params = &registry.GenerationParams{Temperature: &temp}
	own := DefaultStrategies()[registry.StrategyTuned].(*ChatStrategy).Payload(cfg, "hi")
	require.NotNil(t, own.Temperature)
	assert.InDelta(t, 0.9, *own.Temperature, 1e-6)
	assert.Nil(t, own.MaxTokens, "provider params replace the tuned defaults")
}

func requestBody(t *testing.T, strategy Strategy, cfg registry.ProviderConfig) map[string]interface{} {
	t.Helper()
	req, err := strategy.BuildRequest(context.Background(), cfg, "hi")
	require.NoError(t, err)
	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body), string(data))
	return body
}

func TestBuildRequestSendsExplicitZeroParams(t *testing.T) {
	cfg := testProvider("https://example.com/v1/chat/completions")
	zero := float32(0)
	cfg.Params = &registry.GenerationParams{Temperature: &zero, PresencePenalty: &zero}

	body := requestBody(t, DefaultStrategies()[registry.StrategyOpenAI], cfg)
	assert.Contains(t, body, "temperature")
	assert.EqualValues(t, 0, body["temperature"])
	assert.Contains(t, body, "presence_penalty")
	assert.EqualValues(t, 0, body["presence_penalty"])
	assert.NotContains(t, body, "top_p")
	assert.NotContains(t, body, "frequency_penalty")
	assert.NotContains(t, body, "max_tokens")
	assert.Equal(t, true, body["stream"])
}

func TestBuildRequestTunedDefaultsOnWire(t *testing.T) {
	body := requestBody(t, DefaultStrategies()[registry.StrategyTuned], testProvider("https://example.com/v1/chat/completions"))
	assert.EqualValues(t, 1024, body["max_tokens"])
	assert.InDelta(t, 0.7, body["top_p"], 1e-6)
	assert.InDelta(t, 0.2, body["temperature"], 1e-6)
	assert.EqualValues(t, 0, body["presence_penalty"])
	assert.EqualValues(t, 0, body["frequency_penalty"])
}

func TestOpenNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"invalid api key"}`)
	}))
	defer srv.Close()

	_, err := newTestTransport().Open(context.Background(), testProvider(srv.URL), "hi")
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.Status)
	assert.Equal(t, "TEST", te.Provider)
	assert.Contains(t, te.Body, "invalid api key")
	assert.Contains(t, err.Error(), "status: 401")
}

func TestOpenConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestTransport().Open(context.Background(), testProvider(url), "hi")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.Status)
	assert.NotNil(t, te.Err)
}

func TestOpenUnknownStrategy(t *testing.T) {
	cfg := testProvider("https://example.com")
	cfg.Strategy = "carrier-pigeon"
	_, err := newTestTransport().Open(context.Background(), cfg, "hi")
	var te *TransportError
	assert.True(t, errors.As(err, &te))
}

func TestStreamReassemblesEventSplitAcrossWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		full := event("split across reads")
		half := len(full) / 2
		io.WriteString(w, full[:half])
		flusher.Flush()
		time.Sleep(20 * time.Millisecond)
		io.WriteString(w, full[half:])
		flusher.Flush()
		io.WriteString(w, event("second")+"data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := newTestTransport().Open(context.Background(), testProvider(srv.URL), "hi")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"split across reads", "second"}, drain(t, stream))
	assert.Equal(t, 2, stream.DecodeAttempts())
	assert.Empty(t, stream.DecodeErrors())
}

func TestStreamSkipsMalformedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, event("one"))
		io.WriteString(w, "data: {\"choices\": [\n\n")
		io.WriteString(w, event("two"))
		io.WriteString(w, "data: [DONE]\n\n")
		io.WriteString(w, event("after done is ignored"))
	}))
	defer srv.Close()

	stream, err := newTestTransport().Open(context.Background(), testProvider(srv.URL), "hi")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"one", "two"}, drain(t, stream))
	assert.Equal(t, 3, stream.DecodeAttempts())
	require.Len(t, stream.DecodeErrors(), 1)
}

func TestStreamEndsAtBodyEOFWithoutSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, event("a"))
		// final line without trailing newline
		io.WriteString(w, strings.TrimRight(event("b"), "\n"))
	}))
	defer srv.Close()

	stream, err := newTestTransport().Open(context.Background(), testProvider(srv.URL), "hi")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"a", "b"}, drain(t, stream))
}

func TestReadChunkReturnsRawBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: raw\n")
	}))
	defer srv.Close()

	stream, err := newTestTransport().Open(context.Background(), testProvider(srv.URL), "hi")
	require.NoError(t, err)
	defer stream.Close()

	var raw []byte
	for {
		chunk, err := stream.ReadChunk()
		raw = append(raw, chunk...)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "data: raw\n", string(raw))
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.groq.com/openai/v1", BaseURL("https://api.groq.com/openai/v1/chat/completions"))
	assert.Equal(t, "https://api.example.com/v1", BaseURL("https://api.example.com/v1/"))
}

func TestFirstAvailableModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"id":"llama-3.1-8b-instant","object":"model"},{"id":"other","object":"model"}]}`)
	}))
	defer srv.Close()

	cfg := testProvider(srv.URL + "/v1/chat/completions")
	model, err := FirstAvailableModel(context.Background(), cfg, srv.Client())
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", model)

	cfg.Model = ""
	resolved, errs := ResolveModels(context.Background(), []registry.ProviderConfig{cfg}, srv.Client())
	assert.Empty(t, errs)
	assert.Equal(t, "llama-3.1-8b-instant", resolved[0].Model)
}
