// Package extract turns one thread page into a list of message chunks.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

// IDPlaceholder is substituted with the thread identifier in URL templates.
const IDPlaceholder = "{id}"

// ChunkExtractor turns rendered page text into message chunks.
type ChunkExtractor interface {
	Extract(text string) []string
}

// LoginDetector decides whether a location is an authentication page.
type LoginDetector interface {
	IsLogin(location string) bool
}

// Pipeline navigates to one thread and classifies the attempt.
type Pipeline struct {
	urlTemplate string
	login       LoginDetector
	chunks      ChunkExtractor
}

// NewPipeline validates the template and wires the collaborators.
func NewPipeline(urlTemplate string, login LoginDetector, chunks ChunkExtractor) (*Pipeline, error) {
	if !strings.Contains(urlTemplate, IDPlaceholder) {
		return nil, fmt.Errorf("thread url template %q must contain %s", urlTemplate, IDPlaceholder)
	}
	if login == nil {
		return nil, errors.New("login detector is required")
	}
	if chunks == nil {
		chunks = NewHeuristicExtractor(HeuristicConfig{})
	}
	return &Pipeline{urlTemplate: urlTemplate, login: login, chunks: chunks}, nil
}

// ThreadURL renders the page address for id.
func (p *Pipeline) ThreadURL(id string) string {
	return strings.ReplaceAll(p.urlTemplate, IDPlaceholder, id)
}

// Extract runs one attempt for id. It never returns an error; the outcome
// carries the classification.
func (p *Pipeline) Extract(ctx context.Context, browser recovery.Browser, id string) recovery.Outcome {
	if browser == nil {
		return recovery.Crashed(fmt.Errorf("%w: no browser", recovery.ErrTransportClosed))
	}
	location, err := browser.Navigate(ctx, p.ThreadURL(id))
	if err != nil {
		return classify(err)
	}
	if p.login.IsLogin(location) {
		return recovery.NeedsLogin()
	}
	text, err := browser.Text(ctx)
	if err != nil {
		return classify(err)
	}
	return recovery.Success(p.chunks.Extract(text))
}

func classify(err error) recovery.Outcome {
	if errors.Is(err, recovery.ErrTransportClosed) {
		return recovery.Crashed(err)
	}
	return recovery.Failed(err)
}
