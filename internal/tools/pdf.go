package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/wskish/toolchat/internal/llm"
)

const maxPDFBytes = 32 << 20

// PDFToTextTool downloads a PDF and extracts its text with the pdftotext
// binary from poppler-utils.
type PDFToTextTool struct {
	client  *http.Client
	timeout time.Duration
}

func NewPDFToTextTool() *PDFToTextTool {
	return &PDFToTextTool{
		client:  &http.Client{Timeout: 60 * time.Second},
		timeout: defaultExecTimeout,
	}
}

// PDFToTextArgs are the arguments for the pdf_to_text tool.
type PDFToTextArgs struct {
	URL string `json:"url"`
}

func (t *PDFToTextTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: "pdf_to_text",
		Description: "This tool downloads a PDF from the provided URL and converts it to text. " +
			"Use this tool when the user provides a PDF URL and requests to extract its text content.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "The URL of the PDF to convert to text.",
				},
			},
			"required":             []string{"url"},
			"additionalProperties": false,
		},
	}
}

func (t *PDFToTextTool) Preview(args json.RawMessage) string {
	var a PDFToTextArgs
	if err := json.Unmarshal(args, &a); err != nil || a.URL == "" {
		return ""
	}
	return "Downloading PDF from " + a.URL
}

func (t *PDFToTextTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a PDFToTextArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if a.URL == "" {
		return "", fmt.Errorf("url is required")
	}

	pdfBytes, err := t.download(ctx, a.URL)
	if err != nil {
		return "", err
	}

	text, err := t.extractText(ctx, pdfBytes)
	if err != nil {
		return "", fmt.Errorf("error converting PDF to text: %w", err)
	}

	return truncateOutput(text), nil
}

func (t *PDFToTextTool) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", url, err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download PDF from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download PDF from %s: HTTP status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF from %s: %w", url, err)
	}
	if len(data) > maxPDFBytes {
		return nil, fmt.Errorf("PDF at %s exceeds the %d byte limit", url, maxPDFBytes)
	}
	return data, nil
}

func (t *PDFToTextTool) extractText(ctx context.Context, pdfBytes []byte) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// pdftotext reads the document from stdin and writes text to stdout.
	cmd := exec.CommandContext(execCtx, "pdftotext", "-", "-")
	cmd.Stdin = bytes.NewReader(pdfBytes)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext: %s", firstNonEmpty(strings.TrimSpace(stderr.String()), err.Error()))
	}

	// Strip null characters that occasionally appear in extracted text.
	return strings.ReplaceAll(stdout.String(), "\x00", ""), nil
}
