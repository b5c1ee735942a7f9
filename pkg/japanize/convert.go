package japanize

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Converter composes the local and remote stages into one call. IME is
// exported so callers can point the remote stage at a different endpoint.
type Converter struct {
	IME     *IMEClient
	timeout time.Duration
}

// NewConverter builds a converter. The timeout bounds only the remote stage.
func NewConverter(timeout time.Duration) *Converter {
	return &Converter{
		IME:     NewIMEClient(timeout),
		timeout: timeout,
	}
}

// Convert runs the transliteration pipeline on org: dictionary terms are
// shielded from conversion, romaji becomes hiragana, and for GoogleIME the
// hiragana is sent through the remote IME. On remote failure the error is
// returned and callers keep the original text.
func (c *Converter) Convert(ctx context.Context, org string, typ Type, dict map[string]string) (string, error) {
	if typ == None {
		return org, nil
	}

	// Shield dictionary keys behind placeholder tokens so neither stage
	// mangles them; the replacement values are spliced back at the end.
	shielded := org
	restores := make(map[string]string)
	n := 0
	for key, value := range dict {
		if !strings.Contains(shielded, key) {
			continue
		}
		token := fmt.Sprintf("<$%d>", n)
		n++
		shielded = strings.ReplaceAll(shielded, key, token)
		restores[token] = value
	}

	converted := ToHiragana(shielded)

	if typ == GoogleIME {
		cctx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		result, err := c.IME.Convert(cctx, converted)
		if err != nil {
			return "", err
		}
		converted = result
	}

	for token, value := range restores {
		converted = strings.ReplaceAll(converted, token, value)
	}
	return converted, nil
}
