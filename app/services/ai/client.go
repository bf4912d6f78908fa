package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"planify/app/session"
	"planify/core/logger"
	tghelpers "planify/core/telegram/helpers"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config declares the extraction backend settings.
type Config struct {
	APIKey  string `yaml:"api_key" envconfig:"AI_API_KEY"`
	Model   string `yaml:"model" envconfig:"AI_MODEL" default:"gemini-2.0-flash"`
	BaseURL string `yaml:"base_url" envconfig:"AI_BASE_URL"`
}

// Client extracts structured event drafts from free text via a hosted
// language model. It implements session.Extractor.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds an extraction client. The HTTP client may be nil, in
// which case a default one is used; per-request deadlines come from the
// caller's context.
func NewClient(cfg Config, hc *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: hc}
}

const extractionPrompt = `You convert one message into one calendar event.
Current date and time: %s

Reply with a single JSON object and nothing else:
{"summary": "...", "start": "RFC3339", "end": "RFC3339", "description": "...", "location": "...", "category": "...", "attendees": ["..."]}

Rules:
- "summary" and "start" are required; leave other fields empty when unknown.
- Resolve relative dates ("tomorrow", "next friday") against the current time.
- If no end time is given, set "end" one hour after "start".
- "category" is one short word like Work, Personal, Health, or empty.
- "attendees" lists people mentioned as participants, by name or email.
- If the message does not describe a schedulable event, reply with {"summary": ""}.

Message: %s`

// request/response shapes for the generateContent endpoint.

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type extractedEvent struct {
	Summary     string   `json:"summary"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Category    string   `json:"category"`
	Attendees   []string `json:"attendees"`
}

// ExtractEvent asks the model for a structured event and maps it to a draft.
func (c *Client) ExtractEvent(ctx context.Context, text string, now time.Time) (session.Draft, error) {
	start := time.Now()
	logger.Debug(ctx, "svc.ai", "extract.start",
		slog.String("payload", logger.SanitizeLimit(text, 256)),
	)

	raw, err := c.generate(ctx, fmt.Sprintf(extractionPrompt, now.Format(time.RFC3339), text))
	if err != nil {
		logger.Error(ctx, "svc.ai", "extract.fail",
			slog.String("err", err.Error()),
			slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
		)
		return session.Draft{}, err
	}

	draft, err := parseDraft(raw, now.Location())
	if err != nil {
		logger.Warn(ctx, "svc.ai", "extract.unusable",
			slog.String("payload", logger.SanitizeLimit(raw, 256)),
			slog.String("err", err.Error()),
		)
		return session.Draft{}, err
	}

	logger.Info(ctx, "svc.ai", "extract.ok",
		slog.String("draft_summary", logger.SanitizeLimit(draft.Summary, 128)),
		slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
	)
	return draft, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai: status %s: %s", resp.Status, logger.SanitizeLimit(string(data), 256))
	}

	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return "", fmt.Errorf("ai: decoding response: %w", err)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("ai: backend error %d: %s", gr.Error.Code, gr.Error.Message)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("ai: empty response")
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

// parseDraft maps the model's JSON reply onto a draft. Models like to wrap
// JSON in markdown fences, so those are stripped first.
func parseDraft(raw string, loc *time.Location) (session.Draft, error) {
	cleaned := stripFences(raw)

	var ev extractedEvent
	if err := json.Unmarshal([]byte(cleaned), &ev); err != nil {
		return session.Draft{}, fmt.Errorf("%w: %v", session.ErrExtraction, err)
	}
	if strings.TrimSpace(ev.Summary) == "" {
		return session.Draft{}, session.ErrExtraction
	}

	startAt, ok := tghelpers.ParseEventTime(ev.Start, loc)
	if !ok {
		return session.Draft{}, fmt.Errorf("%w: bad start time %q", session.ErrExtraction, ev.Start)
	}
	endAt, ok := tghelpers.ParseEventTime(ev.End, loc)
	if !ok {
		endAt = startAt.Add(time.Hour)
	}

	attendees := make([]string, 0, len(ev.Attendees))
	for _, a := range ev.Attendees {
		if a = strings.TrimSpace(a); a != "" {
			attendees = append(attendees, a)
		}
	}
	if len(attendees) == 0 {
		attendees = nil
	}

	return session.Draft{
		Summary:     strings.TrimSpace(ev.Summary),
		Start:       startAt,
		End:         endAt,
		Description: strings.TrimSpace(ev.Description),
		Location:    strings.TrimSpace(ev.Location),
		Category:    strings.TrimSpace(ev.Category),
		Attendees:   attendees,
	}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
