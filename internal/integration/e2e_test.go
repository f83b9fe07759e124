package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://localhost:8080"

// TestE2EReviewLifecycle 端到端评审生命周期测试。
// 前提：必须先启动 docker-compose 并运行后端服务，且 JWT 放在 E2E_TOKEN 中
func TestE2EReviewLifecycle(t *testing.T) {
	if testing.Short() || os.Getenv("RUN_E2E_TESTS") != "1" {
		t.Skip("Skipping E2E test; set RUN_E2E_TESTS=1 to enable")
	}
	token := os.Getenv("E2E_TOKEN")
	require.NotEmpty(t, token, "需要通过 E2E_TOKEN 提供有效的访问令牌")

	client := &http.Client{Timeout: 10 * time.Second}

	doJSON := func(method, path string, payload any) (*http.Response, map[string]any) {
		t.Helper()
		var body *bytes.Buffer
		if payload != nil {
			raw, err := json.Marshal(payload)
			require.NoError(t, err)
			body = bytes.NewBuffer(raw)
		} else {
			body = bytes.NewBuffer(nil)
		}
		req, err := http.NewRequest(method, baseURL+path, body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var parsed map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&parsed)
		return resp, parsed
	}

	// 1. 提交一条需要人工评审的数据变更请求
	resp, body := doJSON(http.MethodPost, "/api/reviews", map[string]any{
		"originalText":    "把所有 2024 年前的订单标记为归档",
		"generatedSql":    "UPDATE orders SET archived = true WHERE created_at < '2024-01-01'",
		"type":            "data_modification",
		"confidenceScore": 0.62,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "响应缺少 data 字段: %v", body)
	requestID, _ := data["id"].(string)
	require.NotEmpty(t, requestID)
	assert.Equal(t, "in_review", data["status"])

	// 2. 请求应出现在待办队列里
	resp, body = doJSON(http.MethodGet, "/api/reviews/queue?limit=50", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := false
	if items, ok := body["data"].([]any); ok {
		for _, item := range items {
			if m, ok := item.(map[string]any); ok && m["id"] == requestID {
				found = true
			}
		}
	}
	assert.True(t, found, "队列中找不到刚提交的请求 %s", requestID)

	// 3. 查询工作流并在当前步骤批准
	resp, body = doJSON(http.MethodGet, fmt.Sprintf("/api/reviews/%s/workflow", requestID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wf, ok := body["data"].(map[string]any)
	require.True(t, ok)
	workflowID, _ := wf["id"].(string)
	stepIndex := int(wf["currentStepIndex"].(float64))

	resp, _ = doJSON(http.MethodPost,
		fmt.Sprintf("/api/workflows/%s/steps/%d/decision", workflowID, stepIndex),
		map[string]any{"action": "approve", "comments": "范围明确，允许执行"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// 4. 请求最终应进入 approved 终态
	resp, body = doJSON(http.MethodGet, "/api/reviews/"+requestID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, ok = body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "approved", data["status"])
	assert.NotNil(t, data["reviewedAt"])
}
