package middleware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/service"
)

const secret = "middleware-secret"

func tokenApp() *fiber.App {
	app := fiber.New()
	app.Get("/", middleware.SubmissionToken(secret), func(c *fiber.Ctx) error {
		id, ok := middleware.SubmissionFromLocals(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(strconv.FormatUint(uint64(id), 10))
	})
	return app
}

func perform(t *testing.T, app *fiber.App, authorization string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestSubmissionTokenBindsSubmission(t *testing.T) {
	token, _, err := service.NewTokenIssuer(secret, time.Hour).Issue(models.Submission{ID: 42, AttemptID: 7})
	require.NoError(t, err)

	resp := perform(t, tokenApp(), "Bearer "+token)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "42", string(body))
}

func TestSubmissionTokenRejectsMissingHeader(t *testing.T) {
	resp := perform(t, tokenApp(), "")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSubmissionTokenRejectsOtherSecret(t *testing.T) {
	token, _, err := service.NewTokenIssuer("other-secret", time.Hour).Issue(models.Submission{ID: 42})
	require.NoError(t, err)

	resp := perform(t, tokenApp(), "Bearer "+token)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSubmissionTokenRejectsForeignScope(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "42",
		"scope": "admin",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	resp := perform(t, tokenApp(), "Bearer "+signed)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSubmissionTokenRejectsExpired(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "42",
		"scope": service.TokenScopeSubmission,
		"exp":   time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	resp := perform(t, tokenApp(), "Bearer "+signed)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimitKeysBySubmission(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if id := c.Query("submission"); id != "" {
			parsed, _ := strconv.ParseUint(id, 10, 64)
			c.Locals("submission_id", uint(parsed))
		}
		return c.Next()
	})
	app.Get("/", middleware.RateLimit("evaluate", 1, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	call := func(query string) int {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/"+query, nil), -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusNoContent, call("?submission=1"))
	require.Equal(t, fiber.StatusTooManyRequests, call("?submission=1"))
	require.Equal(t, fiber.StatusNoContent, call("?submission=2"))
}
