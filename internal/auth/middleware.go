package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dnsbatch/internal/domain"
)

const userLocalsKey = "auth.user"

// Middleware authenticates every request and stores the caller in the fiber context.
func Middleware(g *Gate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := g.Authenticate(c.UserContext(), SignedRequest{
			Method:    c.Method(),
			Path:      c.Path(),
			AccessKey: c.Get(HeaderAccessKey),
			Date:      c.Get(HeaderDate),
			Signature: c.Get(HeaderSignature),
		})
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				return fiber.NewError(fiber.StatusUnauthorized, err.Error())
			}
			return err
		}

		c.Locals(userLocalsKey, user)
		return c.Next()
	}
}

// UserFromCtx returns the caller stored by Middleware.
func UserFromCtx(c *fiber.Ctx) (*domain.User, bool) {
	user, ok := c.Locals(userLocalsKey).(*domain.User)
	return user, ok && user != nil
}
