package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/loykin/voicewatch/internal/registry"
)

// DefaultOpenAIPath is the API root of OpenAI-compatible runtimes such as Ollama.
const DefaultOpenAIPath = "/v1"

// checkOpenAI lists models through the OpenAI-compatible API. A runtime that answers
// but serves no models is considered unreachable since nothing can be inferred.
func (p *Prober) checkOpenAI(ctx context.Context, e *registry.Endpoint) (Reason, string) {
	path := e.Path
	if path == "" {
		path = DefaultOpenAIPath
	}
	base := "http://" + e.Address() + "/" + strings.Trim(path, "/") + "/"
	key := e.APIKey
	if key == "" {
		// local runtimes ignore the key, but the client refuses to send none
		key = "voicewatch"
	}
	client := openai.NewClient(
		option.WithBaseURL(base),
		option.WithAPIKey(key),
		option.WithHTTPClient(p.client),
		option.WithMaxRetries(0),
	)
	page, err := client.Models.List(ctx)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return ReasonProbeBadStatus, fmt.Sprintf("list models at %s: HTTP %d", base, apiErr.StatusCode)
		}
		return classify(err), fmt.Sprintf("list models at %s: %v", base, err)
	}
	if len(page.Data) == 0 {
		return ReasonProbeBadStatus, "no models served at " + base
	}
	return ReasonNone, ""
}
