package tasks

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// KindHTTP — тип HTTP task.
	KindHTTP = "http"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ключи конфигурации HTTP task.
const (
	configMethod          = "method"
	configURL             = "url"
	configHeaders         = "headers"
	configBody            = "body"
	configFollowRedirects = "follow_redirects"
	configValidateSSL     = "validate_ssl"
	configFailOnStatus    = "fail_on_status"
)

// HTTPKind — task HTTP запроса.
//
// Конфигурация:
//
//	method: POST
//	url: "https://api.example.com/sales?region={{ .Params.region }}"
//	headers:
//	  Authorization: "Bearer {{ .Env.API_TOKEN }}"
//	body:
//	  rows: "{{ .Input.rows }}"
//	follow_redirects: true
//	validate_ssl: true
//	fail_on_status: true   # статус >= 400 — ошибка task
//
// Результат:
//
//	{"status_code": 200, "headers": {...}, "body": {...}}
type HTTPKind struct {
	client *http.Client
}

// NewHTTPKind создаёт новый HTTPKind.
func NewHTTPKind() *HTTPKind {
	return &HTTPKind{
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Name возвращает имя типа.
func (k *HTTPKind) Name() string {
	return KindHTTP
}

// httpConfig — распарсенная конфигурация HTTP task.
type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
	FailOnStatus    bool
}

// Validate проверяет наличие url.
func (k *HTTPKind) Validate(config map[string]any) error {
	_, err := k.parseConfig(config)
	return err
}

// Run выполняет HTTP запрос.
func (k *HTTPKind) Run(ctx context.Context, req *Request) (any, error) {
	cfg, err := k.parseConfig(req.Config)
	if err != nil {
		return nil, err
	}

	client := k.buildClient(cfg, req.Timeout)

	httpReq, err := k.buildRequest(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if req.Logger != nil {
		req.Logger.Info("http request", "method", cfg.Method, "url", cfg.URL)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := k.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	if req.Logger != nil {
		req.Logger.Info("http response", "status_code", resp.StatusCode)
	}

	if cfg.FailOnStatus && resp.StatusCode >= http.StatusBadRequest {
		body, _ := json.Marshal(out["body"])
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	return out, nil
}

// parseConfig парсит конфигурацию HTTP task.
func (k *HTTPKind) parseConfig(config map[string]any) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:          GetConfigString(config, configMethod),
		URL:             GetConfigString(config, configURL),
		Headers:         GetConfigMapString(config, configHeaders),
		Body:            config[configBody],
		FollowRedirects: GetConfigBool(config, configFollowRedirects, true),
		ValidateSSL:     GetConfigBool(config, configValidateSSL, true),
		FailOnStatus:    GetConfigBool(config, configFailOnStatus, true),
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, KindHTTP)
	}

	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	return cfg, nil
}

// buildClient создаёт HTTP клиент с нужными настройками.
func (k *HTTPKind) buildClient(cfg *httpConfig, timeout time.Duration) *http.Client {
	if cfg.ValidateSSL && cfg.FollowRedirects && timeout <= 0 {
		return k.client
	}

	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	transport := http.DefaultTransport
	if !cfg.ValidateSSL {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport:     transport,
	}
}

// buildRequest создаёт HTTP запрос.
func (k *HTTPKind) buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, ok := cfg.Headers["Content-Type"]; !ok {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// serializeBody сериализует body в bytes.
func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// parseResponse читает HTTP ответ.
func (k *HTTPKind) parseResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			// Невалидный JSON возвращаем строкой
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, nil
}

// HTTPError — ответ с кодом ошибки.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

// IsHTTPError проверяет, является ли ошибка HTTP ошибкой.
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}
