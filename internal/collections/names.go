package collections

import (
	"regexp"
	"strings"
)

// NameInput carries what DeriveName looks at.
type NameInput struct {
	FirstName    string
	LastName     string
	Email        string
	Operation    Operation
	ExistingName string
}

// DeriveName joins the trimmed name parts. With no parts, a create that has
// no name yet falls back to the local part of the email. The second result
// is false when the name should be left as it is.
func DeriveName(in NameInput) (string, bool) {
	parts := make([]string, 0, 2)
	for _, part := range []string{in.FirstName, in.LastName} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " "), true
	}
	if in.Operation != OperationCreate || strings.TrimSpace(in.ExistingName) != "" {
		return "", false
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return "", false
	}
	local, _, _ := strings.Cut(email, "@")
	return local, true
}

var (
	slugInvalid    = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugWhitespace = regexp.MustCompile(`\s+`)
	slugHyphens    = regexp.MustCompile(`-+`)
)

func Slugify(title string) string {
	slug := strings.TrimSpace(strings.ToLower(title))
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = slugWhitespace.ReplaceAllString(slug, "-")
	return slugHyphens.ReplaceAllString(slug, "-")
}

// DeriveSlug fills an empty slug from the title. Existing slugs win, and a
// title with nothing slug-safe in it leaves the slug unset.
func DeriveSlug(slug, title string) (string, bool) {
	if strings.TrimSpace(slug) != "" || strings.TrimSpace(title) == "" {
		return "", false
	}
	derived := Slugify(title)
	if derived == "" {
		return "", false
	}
	return derived, true
}
