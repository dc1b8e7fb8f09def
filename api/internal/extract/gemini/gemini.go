package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"card-ledger/api/internal/card"
	"card-ledger/api/internal/extract"
	"card-ledger/api/internal/imaging"
)

const instruction = `你是專業的名片辨識助理。請分析這張名片圖片，並提取以下資訊。
請務必以嚴格的 JSON 格式回傳，key 必須完全符合下列名稱。
若欄位在圖片中找不到，請回傳空字串 ""。

需要的欄位：
- chinese_name (中文姓名)
- english_name (英文姓名)
- department (部門)
- title (職位)
- mobile (手機)
- phone (電話)
- email (信箱)
- address (公司地址)`

const userText = "請辨識這張名片，只回傳 JSON，不要任何說明文字。"

var errNoAPIKey = errors.New("GEMINI_API_KEY is empty")

// generator is the part of *genai.GenerativeModel the engine uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type connectFunc func(ctx context.Context) (generator, io.Closer, error)

type Engine struct {
	APIKey    string
	Model     string
	MaxPixels int
	// Instruction replaces the built-in system prompt when set.
	Instruction string

	connect connectFunc
}

func New(apiKey, model string) *Engine {
	e := &Engine{
		APIKey:    strings.TrimSpace(apiKey),
		Model:     strings.TrimSpace(model),
		MaxPixels: imaging.DefaultMaxPixels,
	}
	e.connect = e.dial
	return e
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) dial(ctx context.Context) (generator, io.Closer, error) {
	if e.APIKey == "" {
		return nil, nil, errNoAPIKey
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return nil, nil, err
	}

	m := cl.GenerativeModel(e.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   recordSchema(),
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(e.systemInstruction())},
	}
	return m, cl, nil
}

func (e *Engine) systemInstruction() string {
	if s := strings.TrimSpace(e.Instruction); s != "" {
		return s
	}
	return instruction
}

// LoadInstruction reads a system prompt override from path.
func LoadInstruction(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("gemini: read prompt: %w", err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("gemini: prompt file %s is empty", path)
	}
	return s, nil
}

// Extract sends the photo with the fixed instruction and parses the JSON reply.
func (e *Engine) Extract(ctx context.Context, image []byte) (card.Record, error) {
	img, mime, err := imaging.Prepare(image, e.MaxPixels)
	if err != nil {
		return card.Record{}, extract.Fail(extract.KindInvalidImage, err)
	}

	m, closer, err := e.connect(ctx)
	if err != nil {
		if errors.Is(err, errNoAPIKey) {
			return card.Record{}, extract.Fail(extract.KindAuth, fmt.Errorf("gemini: %w", err))
		}
		return card.Record{}, extract.Classify(fmt.Errorf("gemini connect: %w", err))
	}
	if closer != nil {
		defer closer.Close()
	}

	resp, err := m.GenerateContent(ctx,
		genai.Text(userText),
		&genai.Blob{MIMEType: mime, Data: img},
	)
	if err != nil {
		return card.Record{}, extract.Classify(fmt.Errorf("gemini generate: %w", err))
	}
	if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return card.Record{}, extract.Fail(extract.KindBadResponse,
			fmt.Errorf("gemini: prompt blocked: %v", resp.PromptFeedback.BlockReason))
	}

	txt := stripCodeFences(firstText(resp))
	if txt == "" {
		return card.Record{}, extract.Fail(extract.KindEmptyResponse, errors.New("gemini: empty response"))
	}
	rec, err := card.Parse([]byte(txt))
	if err != nil {
		return card.Record{}, extract.Fail(extract.KindBadResponse, fmt.Errorf("gemini: %w", err))
	}
	return rec, nil
}

func recordSchema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(card.Fields))
	required := make([]string, 0, len(card.Fields))
	for _, f := range card.Fields {
		props[f] = &genai.Schema{Type: genai.TypeString}
		required = append(required, f)
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   required,
	}
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func ptrFloat32(v float32) *float32 { return &v }
