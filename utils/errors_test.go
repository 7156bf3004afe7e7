package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"emergency-knowledge-service/models"

	"github.com/gin-gonic/gin"
)

func respondStatus(t *testing.T, err error) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondWithDomainError(c, err)
	return w.Code
}

func TestRespondWithDomainError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", models.NewValidationError("content", "empty"), http.StatusBadRequest},
		{"not found", &models.NotFoundError{ID: "x"}, http.StatusNotFound},
		{"embedding", models.NewEmbeddingError("down", nil), http.StatusBadGateway},
		{"store", models.NewStoreError("insert", errors.New("503")), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := respondStatus(t, tc.err); got != tc.want {
				t.Errorf("status = %d, want %d", got, tc.want)
			}
		})
	}
}
