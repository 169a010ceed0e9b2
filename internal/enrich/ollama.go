package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JexSrs/go-ollama"
	"github.com/sirupsen/logrus"
)

// OllamaOptions configures the local model provider.
type OllamaOptions struct {
	Host            string
	Model           string
	MaxPromptLength int
}

// OllamaCompleter talks to an Ollama server with the Generate API.
type OllamaCompleter struct {
	client *ollama.Ollama
	model  string
}

// NewOllamaCompleter validates the host URL and builds a client.
func NewOllamaCompleter(host, model string) (*OllamaCompleter, error) {
	ollamaURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	if ollamaURL.Scheme == "" || ollamaURL.Host == "" {
		return nil, fmt.Errorf("invalid Ollama URL %q: scheme and host are required", host)
	}
	if model == "" {
		return nil, errors.New("ollama model is not set")
	}

	logrus.Infof("Using Ollama client for host: %s", host)
	logrus.Infof("Using Ollama model: %s", model)
	return &OllamaCompleter{client: ollama.New(*ollamaURL), model: model}, nil
}

// NewOllama returns an Enricher backed by Ollama.
func NewOllama(opts OllamaOptions) (*LLM, error) {
	c, err := NewOllamaCompleter(opts.Host, opts.Model)
	if err != nil {
		return nil, err
	}
	return NewLLM("ollama", c, opts.MaxPromptLength), nil
}

type generateResult struct {
	text string
	err  error
}

// Complete runs one non-streaming Generate call. The client has no
// context support, so the call runs in its own goroutine and is abandoned
// when ctx ends.
func (oc *OllamaCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	done := make(chan generateResult, 1)
	go func() {
		text, err := oc.generate(system, prompt)
		done <- generateResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("ollama generate: %w", ctx.Err())
	case res := <-done:
		return res.text, res.err
	}
}

func (oc *OllamaCompleter) generate(system, prompt string) (string, error) {
	res, err := oc.client.Generate(
		oc.client.Generate.WithModel(oc.model),
		oc.client.Generate.WithSystem(system),
		oc.client.Generate.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if !res.Done {
		return "", errors.New("ollama response not finished (unexpected streaming behaviour)")
	}
	if strings.TrimSpace(res.Response) == "" {
		return "", errors.New("ollama returned an empty response")
	}
	logrus.Debug("Response received from Ollama.")
	return res.Response, nil
}
