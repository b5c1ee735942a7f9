package japanize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultIMEURL is the transliteration endpoint. It accepts hiragana-only
// text and returns candidate kanji renderings per segment.
const DefaultIMEURL = "http://www.google.com/transliterate?langpair=ja-Hira|ja&text="

// IMEClient performs the remote transliteration round trip. The call blocks
// on the network, so callers must never run it on an event-delivery thread.
type IMEClient struct {
	BaseURL string
	Client  *http.Client
}

// NewIMEClient builds a client with the given request timeout.
func NewIMEClient(timeout time.Duration) *IMEClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IMEClient{
		BaseURL: DefaultIMEURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Convert sends hiragana text to the IME service and concatenates the first
// candidate of every returned segment. Any network or parse failure is
// returned as an error; callers treat it as stage failure and keep the
// original text.
func (c *IMEClient) Convert(ctx context.Context, org string) (string, error) {
	if org == "" {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+url.QueryEscape(org), nil)
	if err != nil {
		return "", fmt.Errorf("japanize: build request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("japanize: ime call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("japanize: ime status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("japanize: read ime response: %w", err)
	}

	return parseIMEResponse(body)
}

// parseIMEResponse decodes the service response, an array of
// [segment, [candidate, ...]] pairs, taking the first candidate each.
func parseIMEResponse(body []byte) (string, error) {
	var segments [][]json.RawMessage
	if err := json.Unmarshal(body, &segments); err != nil {
		return "", fmt.Errorf("japanize: malformed ime response: %w", err)
	}

	var out strings.Builder
	for _, seg := range segments {
		if len(seg) < 2 {
			return "", fmt.Errorf("japanize: short ime segment")
		}
		var candidates []string
		if err := json.Unmarshal(seg[1], &candidates); err != nil {
			return "", fmt.Errorf("japanize: malformed ime candidates: %w", err)
		}
		if len(candidates) == 0 {
			// No candidate offered: fall back to the source segment.
			var src string
			if err := json.Unmarshal(seg[0], &src); err != nil {
				return "", fmt.Errorf("japanize: malformed ime segment: %w", err)
			}
			out.WriteString(src)
			continue
		}
		out.WriteString(candidates[0])
	}
	return out.String(), nil
}
