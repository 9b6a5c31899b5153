package pdf

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrPasswordRequired marks documents that could not be opened without a
// (correct) password.
var ErrPasswordRequired = errors.New("pdf is password protected")

var passwordKeywords = []string{
	"password",
	"encrypted",
	"decrypt",
	"authentication",
	"unauthorized",
	"invalid credentials",
}

// IsPasswordError reports whether err is related to encryption.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPasswordRequired) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, keyword := range passwordKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// PasswordHint returns a user-facing message for a protected document.
func PasswordHint(filename string) string {
	caser := cases.Title(language.English)
	return fmt.Sprintf("%s: %q needs a password (use --password)",
		caser.String("protected document"), filename)
}
