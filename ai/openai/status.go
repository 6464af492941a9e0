package openai

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/poiesic/groundwork/ai"
)

// statusPattern matches the status the langchaingo client embeds in its
// error text for non-200 responses.
var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// classify marks client errors that no retry can fix as permanent. Rate
// limits and request timeouts stay retryable.
func classify(err error) error {
	if err == nil || ai.IsPermanent(err) {
		return err
	}
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	code, _ := strconv.Atoi(m[1])
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return err
	case code >= 400 && code < 500:
		return ai.Permanent(fmt.Errorf("%w: %w", ai.ErrRequestRejected, err))
	}
	return err
}
