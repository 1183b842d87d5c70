package response_test

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tenantrun/pkg/errors"
	"tenantrun/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

func TestErrorNeverLeaksCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "plain error becomes internal",
			err:         stderrors.New("open /etc/group: permission denied"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Internal server error",
		},
		{
			name:        "custom message hidden",
			err:         errors.Newf(errors.NotAuthorized, "bob is not in tenantrun"),
			wantStatus:  http.StatusForbidden,
			wantMessage: errors.NotAuthorized.Message(),
		},
		{
			name:        "transport error",
			err:         errors.New(errors.InvalidContentType),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "content-type must be application/json",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/", func(c *gin.Context) {
				response.AbortWithError(c, tc.err)
			})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("unexpected status: %d", rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if len(body) != 1 || body["message"] != tc.wantMessage {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}
