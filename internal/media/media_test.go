package media_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"narrato-server/internal/keypool"
	"narrato-server/internal/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubUploader запоминает последнюю загрузку и возвращает фиксированный URL.
type stubUploader struct {
	lastData         []byte
	lastResourceType string
	url              string
}

func (s *stubUploader) Upload(_ context.Context, data []byte, resourceType string) (string, error) {
	s.lastData = data
	s.lastResourceType = resourceType
	return s.url, nil
}

func newPool(t *testing.T, keys ...string) *keypool.Pool {
	t.Helper()
	pool, err := keypool.New(keys)
	require.NoError(t, err)
	return pool
}

func TestImageClient_GeneratesAndUploads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf-1", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "a fox in a forest", payload["inputs"])

		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	uploader := &stubUploader{url: "https://cdn.example.com/img.png"}
	client, err := media.NewImageClient(media.ImageConfig{BaseURL: srv.URL}, newPool(t, "hf-1"), uploader, zap.NewNop())
	require.NoError(t, err)

	url, err := client.Generate(context.Background(), "a fox in a forest")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/img.png", url)
	assert.Equal(t, []byte("png-bytes"), uploader.lastData)
	assert.Equal(t, media.ResourceImage, uploader.lastResourceType)
}

func TestImageClient_RotatesTokensOnQuota(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	uploader := &stubUploader{url: "https://cdn.example.com/img.png"}
	client, err := media.NewImageClient(media.ImageConfig{BaseURL: srv.URL}, newPool(t, "hf-1", "hf-2", "hf-3"), uploader, zap.NewNop())
	require.NoError(t, err)

	url, err := client.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/img.png", url)
	assert.Equal(t, int32(3), calls.Load())
}

func TestImageClient_NonRetryableRejectionAborts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("prompt rejected"))
	}))
	defer srv.Close()

	client, err := media.NewImageClient(media.ImageConfig{BaseURL: srv.URL}, newPool(t, "hf-1", "hf-2"), &stubUploader{}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrImageGeneration)
	assert.Equal(t, int32(1), calls.Load(), "bad request must not trigger token rotation")
}

func TestVoiceClient_SynthesizesAndUploadsAsVideo(t *testing.T) {
	audio := []byte("mp3-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "oliver", payload["voice_id"])
		assert.Contains(t, payload["input"], "<speak>")
		assert.Contains(t, payload["input"], "Once upon a time.")

		json.NewEncoder(w).Encode(map[string]any{
			"audio_data": base64.StdEncoding.EncodeToString(audio),
		})
	}))
	defer srv.Close()

	uploader := &stubUploader{url: "https://cdn.example.com/voice.mp3"}
	client, err := media.NewVoiceClient(media.VoiceConfig{BaseURL: srv.URL}, newPool(t, "sp-1"), uploader, zap.NewNop())
	require.NoError(t, err)

	url, err := client.Synthesize(context.Background(), "Once upon a time.")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/voice.mp3", url)
	assert.Equal(t, audio, uploader.lastData)
	assert.Equal(t, media.ResourceVideo, uploader.lastResourceType)
}

func TestVoiceClient_ExhaustsKeys(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := media.NewVoiceClient(media.VoiceConfig{BaseURL: srv.URL, MaxCycles: 2}, newPool(t, "sp-1", "sp-2"), &stubUploader{}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Synthesize(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrVoiceSynthesis)
	assert.Equal(t, int32(4), calls.Load())
}
