// Package classifier implements domain.Classifier against an Ollama-compatible
// language model server. The model receives the observation as a structured
// prompt and must answer with a labeled disaster type, severity, and
// rationale, which the client parses back into a domain.Assessment.
package classifier

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cirruswatch/stormsentry/internal/domain"
)

const capability = "classifier"

// DefaultBaseURL is the local Ollama endpoint.
const DefaultBaseURL = "http://localhost:11434"

// Client classifies observations via a generate-style model API.
type Client struct {
	model      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a classifier client. baseURL may be empty for the local
// Ollama default.
func NewClient(baseURL, model string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		model: model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Classify sends the observation to the model and parses its judgment.
// Unreachable or overloaded model servers are transient; a response missing
// the required labels is also transient, since models answer
// non-deterministically and a retry may produce parseable output.
func (c *Client) Classify(ctx context.Context, obs domain.Observation) (domain.Assessment, error) {
	reqBody, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: buildPrompt(obs),
		Stream: false,
	})
	if err != nil {
		return domain.Assessment{}, domain.Terminal(capability, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return domain.Assessment{}, domain.Terminal(capability, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Assessment{}, domain.Transient(capability, domain.ErrTimeout)
		}
		return domain.Assessment{}, domain.Transient(capability,
			fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.Assessment{}, domain.Transient(capability,
			fmt.Errorf("%w: status %d: %s", domain.ErrModelUnavailable, resp.StatusCode, body))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return domain.Assessment{}, domain.Transient(capability, fmt.Errorf("decode response: %w", err))
	}

	assessment, err := parseAssessment(gr.Response)
	if err != nil {
		return domain.Assessment{}, domain.Transient(capability, err)
	}

	c.logger.Debug("observation classified",
		"location", obs.Location,
		"disaster_type", assessment.DisasterType,
		"severity", assessment.Severity,
		"raw_severity", assessment.RawSeverity)
	return assessment, nil
}

// buildPrompt renders the observation into the labeled-answer prompt.
func buildPrompt(obs domain.Observation) string {
	var b strings.Builder
	b.WriteString("You are a weather disaster analyst. Based on the following weather data, ")
	b.WriteString("determine the disaster type and severity.\n\n")
	fmt.Fprintf(&b, "Location: %s\n", obs.Location)
	fmt.Fprintf(&b, "Weather Description: %s\n", obs.Description)
	fmt.Fprintf(&b, "Temperature: %.1f°C\n", obs.TemperatureC)
	fmt.Fprintf(&b, "Wind Speed: %.1f m/s\n", obs.WindSpeedMS)
	fmt.Fprintf(&b, "Humidity: %.0f%%\n", obs.HumidityPct)
	fmt.Fprintf(&b, "Pressure: %.0f hPa\n", obs.PressureHPa)
	fmt.Fprintf(&b, "Cloud Cover: %.0f%%\n", obs.CloudCoverPct)
	b.WriteString("\nAnswer in exactly this format:\n")
	b.WriteString("Disaster Type: one of Hurricane, Flood, Heatwave, Severe Storm, Winter Storm, No Immediate Threat\n")
	b.WriteString("Severity: one of Critical, High, Medium, Low\n")
	b.WriteString("Rationale: a short explanation of your assessment\n")
	return b.String()
}

// parseAssessment extracts the labeled fields from the model's answer.
// Severity is matched against the known levels; an unknown value is kept
// verbatim in RawSeverity with Severity left unset, so the caller can apply
// its fail-safe default.
func parseAssessment(text string) (domain.Assessment, error) {
	var a domain.Assessment
	var rationale []string
	inRationale := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case hasLabel(line, "Disaster Type:"):
			a.DisasterType = labelValue(line, "Disaster Type:")
			inRationale = false
		case hasLabel(line, "Severity:"):
			a.RawSeverity = labelValue(line, "Severity:")
			if sev, ok := domain.ParseSeverity(a.RawSeverity); ok {
				a.Severity = sev
			}
			inRationale = false
		case hasLabel(line, "Rationale:"):
			inRationale = true
			if v := labelValue(line, "Rationale:"); v != "" {
				rationale = append(rationale, v)
			}
		case inRationale && line != "":
			rationale = append(rationale, line)
		}
	}
	a.Rationale = strings.Join(rationale, " ")

	if a.DisasterType == "" || a.RawSeverity == "" {
		return domain.Assessment{}, fmt.Errorf("%w: missing disaster type or severity in %q",
			domain.ErrMalformedOutput, truncate(text, 200))
	}
	return a, nil
}

func hasLabel(line, label string) bool {
	return len(line) >= len(label) && strings.EqualFold(line[:len(label)], label)
}

func labelValue(line, label string) string {
	return strings.TrimSpace(line[len(label):])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Ollama generate API types.

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}
