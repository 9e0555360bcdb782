package toolkit

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/quizora/quizora/pkg/keypool"
)

const (
	visionModel      = "gemini-2.5-flash"
	visionBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai/"
	visionMaxTokens  = 600
	transcribePrompt = "Transcribe this audio EXACTLY. Return ONLY the transcription text. Do NOT add explanations."
)

// MediaAnalyzer answers questions about images and transcribes audio by
// sending the bytes to a vision model over the OpenAI-compatible
// endpoint. Credentials come from the shared pool so media calls rotate
// keys the same way decision calls do.
type MediaAnalyzer struct {
	pool       *keypool.Pool
	provider   string
	downloader *Downloader
	logger     zerolog.Logger
}

// NewMediaAnalyzer creates an analyzer drawing credentials for provider
// from pool. Remote media URLs are fetched through downloader first.
func NewMediaAnalyzer(pool *keypool.Pool, provider string, downloader *Downloader, logger zerolog.Logger) *MediaAnalyzer {
	if provider == "" {
		provider = "gemini"
	}
	return &MediaAnalyzer{
		pool:       pool,
		provider:   provider,
		downloader: downloader,
		logger:     logger,
	}
}

// AnalyzeImage answers question about the image at source, which may be
// a URL or a local path.
func (m *MediaAnalyzer) AnalyzeImage(ctx context.Context, source, question string) (string, error) {
	if question == "" {
		question = "Describe this image in detail"
	}

	path, err := m.localize(ctx, source)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", path, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(question),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURI}),
	}

	answer, err := m.call(ctx, parts, visionMaxTokens)
	if err != nil {
		return "", err
	}

	m.logger.Debug().Str("image", path).Int("answer_len", len(answer)).Msg("Image analyzed")
	return answer, nil
}

// TranscribeAudio returns the transcript of the audio at source.
func (m *MediaAnalyzer) TranscribeAudio(ctx context.Context, source string) (string, error) {
	path, err := m.localize(ctx, source)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read audio %s: %w", path, err)
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "" {
		format = "wav"
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(transcribePrompt),
		openai.InputAudioContentPart(openai.ChatCompletionContentPartInputAudioInputAudioParam{
			Data:   base64.StdEncoding.EncodeToString(data),
			Format: format,
		}),
	}

	transcript, err := m.call(ctx, parts, 0)
	if err != nil {
		return "", err
	}

	m.logger.Debug().Str("audio", path).Int("transcript_len", len(transcript)).Msg("Audio transcribed")
	return strings.TrimSpace(transcript), nil
}

// localize downloads remote sources into the scratch directory and
// passes local paths through untouched.
func (m *MediaAnalyzer) localize(ctx context.Context, source string) (string, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return source, nil
	}
	if m.downloader == nil {
		return "", fmt.Errorf("remote media requires a downloader")
	}

	result, err := m.downloader.Download(ctx, source, "")
	if err != nil {
		return "", fmt.Errorf("failed to download media: %w", err)
	}
	return result.Path, nil
}

// call runs one vision request, rotating through the provider's
// credentials on quota errors.
func (m *MediaAnalyzer) call(ctx context.Context, parts []openai.ChatCompletionContentPartUnionParam, maxTokens int) (string, error) {
	size := m.pool.Size(m.provider)
	if size == 0 {
		return "", fmt.Errorf("provider %s: %w", m.provider, keypool.ErrExhausted)
	}
	var lastErr error

	for attempt := 0; attempt < size; attempt++ {
		cred, err := m.pool.Next(m.provider)
		if err != nil {
			if lastErr != nil {
				return "", fmt.Errorf("media call failed: %w", lastErr)
			}
			return "", err
		}

		client := openai.NewClient(
			option.WithAPIKey(cred.APIKey),
			option.WithBaseURL(visionBaseURL),
		)

		params := openai.ChatCompletionNewParams{
			Model: visionModel,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(parts),
			},
		}
		if maxTokens > 0 {
			params.MaxTokens = openai.Int(int64(maxTokens))
		}

		completion, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if isQuotaError(err) {
				m.pool.MarkExhausted(cred.ID, 0)
				lastErr = err
				m.logger.Info().Str("credential", cred.ID).Msg("Media credential quota exhausted, rotating")
				continue
			}
			return "", fmt.Errorf("media call failed: %w", err)
		}

		m.pool.MarkSuccess(cred.ID)
		if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
			return "", fmt.Errorf("vision model returned no content")
		}
		return completion.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("media call failed on every credential: %w", lastErr)
}

func isQuotaError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted")
}
