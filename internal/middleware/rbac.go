package middleware

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-question-engine/internal/utils"
)

var staffRoles = []string{"admin", "teacher"}

// RequireRole admits callers whose role is one of roles. The pseudo role
// "staff" expands to every grading role.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := strings.ToLower(strings.TrimSpace(role))
		switch normalized {
		case "":
		case AuthRoleStaff:
			for _, r := range staffRoles {
				allowed[r] = struct{}{}
			}
		default:
			allowed[normalized] = struct{}{}
		}
	}

	required := make([]string, 0, len(allowed))
	for role := range allowed {
		required = append(required, role)
	}
	sort.Strings(required)

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[UserRole(c)]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"required_roles": required})
		}
		return c.Next()
	}
}

func isStaffRole(role string) bool {
	for _, r := range staffRoles {
		if role == r {
			return true
		}
	}
	return false
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
