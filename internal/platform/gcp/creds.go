package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

// credentialEnv is checked in order; the first non-empty value is used.
var credentialEnv = []string{
	"GOOGLE_APPLICATION_CREDENTIALS_JSON",
	"GOOGLE_APPLICATION_CREDENTIALS",
	"GOOGLE_SERVICE_ACCOUNT_FILE",
}

// ClientOptionsFromEnv builds Google API client options from the environment. A value that
// looks like a JSON object is used inline, anything else as a key file path. With no value
// set the client falls back to application default credentials.
func ClientOptionsFromEnv(scopes ...string) []option.ClientOption {
	opts := make([]option.ClientOption, 0, 2)
	if cred := lookupCredential(); cred != "" {
		if strings.HasPrefix(cred, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(cred)))
		} else {
			opts = append(opts, option.WithCredentialsFile(cred))
		}
	}
	if len(scopes) > 0 {
		opts = append(opts, option.WithScopes(scopes...))
	}
	return opts
}

func lookupCredential() string {
	for _, k := range credentialEnv {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// collapseWhitespace folds runs of Unicode space, NBSP included, into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
