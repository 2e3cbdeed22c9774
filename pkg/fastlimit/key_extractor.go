package fastlimit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/text/unicode/norm"
)

// KeyExtractor is a function that extracts a namespace from an HTTP request.
// The namespace identifies who is being rate limited (IP address, API key, user ID).
type KeyExtractor func(*http.Request) (string, error)

func keyError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrKeyExtractionFailed}, args...)...)
}

// remoteIP returns the host part of r.RemoteAddr, or RemoteAddr itself when it has no port.
func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ExtractIP returns a KeyExtractor that uses the client's IP address.
func ExtractIP() KeyExtractor {
	return func(r *http.Request) (string, error) {
		ip := remoteIP(r)
		if ip == "" {
			return "", keyError("empty IP address")
		}
		return "ip:" + ip, nil
	}
}

// ExtractIPWithProxy returns a KeyExtractor that trusts proxy headers.
// It checks X-Forwarded-For (first hop) and X-Real-IP before RemoteAddr.
func ExtractIPWithProxy() KeyExtractor {
	return func(r *http.Request) (string, error) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return "ip:" + ip, nil
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return "ip:" + xri, nil
		}

		ip := remoteIP(r)
		if ip == "" {
			return "", keyError("empty IP address")
		}
		return "ip:" + ip, nil
	}
}

// ExtractHeader returns a KeyExtractor that uses a specific HTTP header.
// Example: ExtractHeader("X-API-Key") will use the X-API-Key header value.
func ExtractHeader(headerName string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		value := r.Header.Get(headerName)
		if value == "" {
			return "", keyError("header %s not found or empty", headerName)
		}
		return "header:" + headerName + ":" + value, nil
	}
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", keyError("Authorization header not found")
	}

	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", keyError("invalid Authorization header format")
	}
	if token == "" {
		return "", keyError("empty bearer token")
	}
	return token, nil
}

// ExtractBearer returns a KeyExtractor that uses the raw Bearer token.
func ExtractBearer() KeyExtractor {
	return func(r *http.Request) (string, error) {
		token, err := bearerToken(r)
		if err != nil {
			return "", err
		}
		return "bearer:" + token, nil
	}
}

// ExtractJWTSubject returns a KeyExtractor that verifies an HS256 Bearer JWT
// and uses its "sub" claim. Requests from the same user share one namespace
// no matter which token they present.
func ExtractJWTSubject(secret []byte) KeyExtractor {
	return func(r *http.Request) (string, error) {
		raw, err := bearerToken(r)
		if err != nil {
			return "", err
		}

		parsed, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return secret, nil
		})
		if err != nil || !parsed.Valid {
			return "", keyError("invalid token: %v", err)
		}

		sub, err := parsed.Claims.GetSubject()
		if err != nil || sub == "" {
			return "", keyError("token has no subject")
		}
		return "sub:" + sub, nil
	}
}

// ExtractCookie returns a KeyExtractor that uses a specific cookie value.
func ExtractCookie(cookieName string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(cookieName)
		if err != nil {
			return "", keyError("cookie %s not found: %v", cookieName, err)
		}
		if cookie.Value == "" {
			return "", keyError("cookie %s has empty value", cookieName)
		}
		return "cookie:" + cookieName + ":" + cookie.Value, nil
	}
}

// ExtractStatic returns a KeyExtractor that always returns the same key.
// All clients then share a single window.
func ExtractStatic(key string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		if key == "" {
			return "", keyError("static key is empty")
		}
		return key, nil
	}
}

// ExtractComposite returns a KeyExtractor that tries extractors in order and
// returns the first key found.
//
// Example:
//
//	extractor := ExtractComposite(
//	    ExtractHeader("X-API-Key"),
//	    ExtractIPWithProxy(),  // Fallback to IP if no API key
//	)
func ExtractComposite(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) (string, error) {
		if len(extractors) == 0 {
			return "", keyError("no extractors provided")
		}

		var lastErr error
		for _, extractor := range extractors {
			key, err := extractor(r)
			if err == nil && key != "" {
				return key, nil
			}
			lastErr = err
		}
		if lastErr != nil {
			return "", keyError("all extractors failed: %v", lastErr)
		}
		return "", keyError("all extractors returned empty key")
	}
}

// Normalized wraps an extractor so that keys differing only in Unicode
// representation (full-width digits, composed accents) share one namespace.
// Keys are trimmed and NFKC-normalized; case is preserved.
func Normalized(extractor KeyExtractor) KeyExtractor {
	return func(r *http.Request) (string, error) {
		key, err := extractor(r)
		if err != nil {
			return "", err
		}
		key = norm.NFKC.String(strings.TrimSpace(key))
		if key == "" {
			return "", keyError("key is empty after normalization")
		}
		return key, nil
	}
}

// ParseKeyExtractorConfig creates a KeyExtractor from a configuration string.
// Supported formats:
//   - "ip" -> ExtractIP()
//   - "ip-proxy" -> ExtractIPWithProxy()
//   - "header:X-API-Key" -> ExtractHeader("X-API-Key")
//   - "bearer" -> ExtractBearer()
//   - "jwt:ENV_VAR" -> ExtractJWTSubject(secret read from $ENV_VAR)
//   - "cookie:session_id" -> ExtractCookie("session_id")
//   - "static:global" -> ExtractStatic("global")
//   - "nfkc:<any of the above>" -> Normalized(...)
func ParseKeyExtractorConfig(config string) (KeyExtractor, error) {
	kind, arg, hasArg := strings.Cut(config, ":")

	needArg := func(format string) error {
		if !hasArg || arg == "" {
			return fmt.Errorf("%w: %s extractor requires format '%s'", ErrInvalidConfig, kind, format)
		}
		return nil
	}

	switch kind {
	case "ip":
		return ExtractIP(), nil

	case "ip-proxy":
		return ExtractIPWithProxy(), nil

	case "header":
		if err := needArg("header:HeaderName"); err != nil {
			return nil, err
		}
		return ExtractHeader(arg), nil

	case "bearer":
		return ExtractBearer(), nil

	case "jwt":
		if err := needArg("jwt:SECRET_ENV_VAR"); err != nil {
			return nil, err
		}
		secret := os.Getenv(arg)
		if secret == "" {
			return nil, fmt.Errorf("%w: environment variable %s is empty", ErrInvalidConfig, arg)
		}
		return ExtractJWTSubject([]byte(secret)), nil

	case "cookie":
		if err := needArg("cookie:CookieName"); err != nil {
			return nil, err
		}
		return ExtractCookie(arg), nil

	case "static":
		if err := needArg("static:key"); err != nil {
			return nil, err
		}
		return ExtractStatic(arg), nil

	case "nfkc":
		if err := needArg("nfkc:extractor"); err != nil {
			return nil, err
		}
		inner, err := ParseKeyExtractorConfig(arg)
		if err != nil {
			return nil, err
		}
		return Normalized(inner), nil

	default:
		return nil, fmt.Errorf("%w: unknown key extractor type: %s", ErrInvalidConfig, kind)
	}
}
