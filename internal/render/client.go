// Package render はフィードバックのPDFドキュメント生成を提供する。
//
// HTMLテンプレートでドキュメントを組み立て、Gotenberg互換のHTML変換サービスでPDFに変換する。
package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	// convertPath はHTMLをPDFに変換するエンドポイント。
	convertPath = "/forms/chromium/convert/html"
	// maxDocumentSize は受け付けるPDFの最大サイズ（20MB）。
	maxDocumentSize = 20 << 20
	// maxErrorBodySize はエラーメッセージに含めるレスポンス本文の最大サイズ。
	maxErrorBodySize = 512
)

// Options は変換時のページ設定。ゼロ値はサービス側のデフォルトを使う。
type Options struct {
	Landscape bool
	// PaperWidth, PaperHeight はインチ単位。
	PaperWidth  float64
	PaperHeight float64
}

// Client はHTML変換サービスのHTTPクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient はClientを生成する。timeoutが0以下の場合は30秒。
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Render はHTMLドキュメントをPDFに変換する。
func (c *Client) Render(ctx context.Context, html []byte, opts Options) ([]byte, error) {
	body, contentType, err := buildForm(html, opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+convertPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create render request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("render failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	pdf, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered document: %w", err)
	}
	if len(pdf) > maxDocumentSize {
		return nil, fmt.Errorf("rendered document exceeds %d bytes", maxDocumentSize)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("empty rendered document")
	}
	return pdf, nil
}

// buildForm は変換サービスに送るmultipartフォームを組み立てる。
// HTMLはindex.htmlという名前のファイルとして送る必要がある。
func buildForm(html []byte, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="index.html"`)
	h.Set("Content-Type", "text/html; charset=utf-8")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(html); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}

	fields := map[string]string{}
	if opts.Landscape {
		fields["landscape"] = "true"
	}
	if opts.PaperWidth > 0 {
		fields["paperWidth"] = fmt.Sprintf("%g", opts.PaperWidth)
	}
	if opts.PaperHeight > 0 {
		fields["paperHeight"] = fmt.Sprintf("%g", opts.PaperHeight)
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
