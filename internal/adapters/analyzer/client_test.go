package analyzer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/domain/model"
)

func testConfig(baseURL string) config.AnalyzerConfig {
	return config.AnalyzerConfig{
		BaseURL: baseURL,
		APIKey:  "sk-test",
		Model:   "qwen-plus",
		Timeout: 5 * time.Second,
	}
}

func testInput() model.AnalysisInput {
	age := 34
	return model.AnalysisInput{
		AssessmentID:      "4b6c0c3e-8f0e-4bfb-9f0c-3d5c2f6a9e11",
		SubjectName:       "张三",
		Age:               &age,
		Gender:            "男",
		QuestionnaireType: "SCL-90",
		QuestionnaireData: json.RawMessage(`{"q1":3,"q2":1}`),
	}
}

func completionBody(content string) string {
	payload := map[string]any{
		"id": "chatcmpl-1",
		"choices": []any{
			map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AnalyzerConfig)
	}{
		{name: "missing key", mutate: func(c *config.AnalyzerConfig) { c.APIKey = "" }},
		{name: "missing model", mutate: func(c *config.AnalyzerConfig) { c.Model = "" }},
		{name: "bad expression", mutate: func(c *config.AnalyzerConfig) { c.ResultExpression = "choices[0" }},
		{name: "bad template", mutate: func(c *config.AnalyzerConfig) { c.PromptTemplate = "{{.SubjectName" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://localhost")
			tt.mutate(&cfg)
			_, err := New(Options{Config: cfg})
			require.Error(t, err)
		})
	}

	_, err := New(Options{Config: config.AnalyzerConfig{}})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_Analyze(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody("综合评估：情绪稳定。"))
	}))
	defer srv.Close()

	client, err := New(Options{Config: testConfig(srv.URL + "/v1/")})
	require.NoError(t, err)

	text, err := client.Analyze(context.Background(), testInput())

	require.NoError(t, err)
	assert.Equal(t, "综合评估：情绪稳定。", text)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "qwen-plus", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, defaultSystemPrompt, gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Contains(t, gotReq.Messages[1].Content, "姓名：张三")
	assert.Contains(t, gotReq.Messages[1].Content, "年龄：34")
	assert.Contains(t, gotReq.Messages[1].Content, "职业：未提供")
	assert.Contains(t, gotReq.Messages[1].Content, `"q1": 3`)
}

func TestClient_Analyze_CustomPromptAndExpression(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		_, _ = io.WriteString(w, `{"output":{"text":"custom report"}}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SystemPrompt = "be brief"
	cfg.PromptTemplate = "subject={{.SubjectName}} type={{.QuestionnaireType}}"
	cfg.ResultExpression = "output.text"
	client, err := New(Options{Config: cfg})
	require.NoError(t, err)

	text, err := client.Analyze(context.Background(), testInput())

	require.NoError(t, err)
	assert.Equal(t, "custom report", text)
	assert.Equal(t, "be brief", gotReq.Messages[0].Content)
	assert.Equal(t, "subject=张三 type=SCL-90", gotReq.Messages[1].Content)
}

func TestClient_Analyze_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		contains string
	}{
		{name: "non-2xx", status: http.StatusTooManyRequests, body: `{"error":"rate limited"}`, wantErr: ErrUnexpectedStatus, contains: "rate limited"},
		{name: "no match", status: http.StatusOK, body: `{"choices":[]}`, wantErr: ErrNoResult},
		{name: "non-string match", status: http.StatusOK, body: `{"choices":[{"message":{"content":42}}]}`, wantErr: ErrNoResult},
		{name: "invalid json", status: http.StatusOK, body: `not json`, contains: "decode analyzer response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client, err := New(Options{Config: testConfig(srv.URL)})
			require.NoError(t, err)

			_, err = client.Analyze(context.Background(), testInput())

			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestClient_Analyze_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := New(Options{Config: testConfig(srv.URL)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Analyze(ctx, testInput())

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFormatQuestionnaire(t *testing.T) {
	assert.Equal(t, "无", formatQuestionnaire(nil))
	assert.Equal(t, "{\n  \"a\": 1\n}", formatQuestionnaire(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "plain", formatQuestionnaire(json.RawMessage(`plain`)))
}
