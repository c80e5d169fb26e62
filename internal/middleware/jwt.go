package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/utils"
)

const codeUnauthorized = "UNAUTHORIZED"

// SubmissionToken validates bearer tokens issued when a submission is bootstrapped
// and binds the submission id to the request.
func SubmissionToken(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, codeUnauthorized, "authorization header missing", nil)
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, codeUnauthorized, "invalid authorization header", nil)
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		if tokenString == "" {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, codeUnauthorized, "invalid token", nil)
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, codeUnauthorized, "invalid token", nil)
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, codeUnauthorized, "invalid token claims", nil)
		}
		if scope, _ := claims["scope"].(string); scope != service.TokenScopeSubmission {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, codeUnauthorized, "token scope not allowed", nil)
		}

		submissionID, err := normalizeSubject(claims["sub"])
		if err != nil || submissionID == 0 {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, codeUnauthorized, "invalid token subject", nil)
		}
		c.Locals("submission_id", submissionID)
		c.SetUserContext(ContextWithSubmission(c.UserContext(), submissionID))

		return c.Next()
	}
}

// SubmissionFromLocals returns the submission bound by SubmissionToken.
func SubmissionFromLocals(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("submission_id").(uint)
	return id, ok && id != 0
}

func normalizeSubject(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	default:
		return 0, fmt.Errorf("unsupported subject type")
	}
}
