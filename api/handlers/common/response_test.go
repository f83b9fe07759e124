package common

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestSuccessWrapsPayload(t *testing.T) {
	c, w := newTestContext(t)

	Success(c, map[string]string{"id": "req-1"})

	require.Equal(t, http.StatusOK, w.Code)
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"id": "req-1"}, resp.Data)
}

func TestErrorCarriesStatusAndMessage(t *testing.T) {
	c, w := newTestContext(t)

	Error(c, http.StatusBadRequest, "start 时间格式错误")

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "start 时间格式错误", resp.Message)
}

func TestListComputesTotalPages(t *testing.T) {
	cases := []struct {
		name      string
		pageSize  int
		total     int64
		wantPages int
		wantSize  int
	}{
		{name: "整除", pageSize: 20, total: 40, wantPages: 2, wantSize: 20},
		{name: "有余数", pageSize: 20, total: 45, wantPages: 3, wantSize: 20},
		{name: "空列表", pageSize: 20, total: 0, wantPages: 0, wantSize: 20},
		{name: "非法页大小回退默认值", pageSize: 0, total: 45, wantPages: 3, wantSize: 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, w := newTestContext(t)

			List(c, []string{}, 1, tc.pageSize, tc.total)

			require.Equal(t, http.StatusOK, w.Code)
			var resp ListResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantPages, resp.Pagination.TotalPage)
			assert.Equal(t, tc.wantSize, resp.Pagination.PageSize)
			assert.Equal(t, tc.total, resp.Pagination.Total)
		})
	}
}
