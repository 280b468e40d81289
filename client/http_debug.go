package client

import (
	"net/http"
	"net/http/httputil"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// debugTransport provides detailed HTTP request/response logging for debugging client issues.
//
// Purpose:
//   - Troubleshoot API communication problems (timeouts, malformed requests, unexpected responses)
//   - Debug authentication issues by inspecting headers and payloads
//   - Check what an offline queue replay actually sends
//
// When to use:
//   - Set IRISELLER_DEBUG=true or DEBUG=true environment variable
//   - During development when building new API integrations
//
// Security considerations:
//   - Logs full request/response bodies including sensitive data (tokens, user data)
//   - Only enable in development/staging environments
//
// Example usage:
//
//	export IRISELLER_DEBUG=true
//	iriseller-sync status  # every gateway call is now dumped at debug level
type debugTransport struct {
	base http.RoundTripper
	log  *zerolog.Logger
}

func (dt *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := dt.base
	if base == nil {
		base = http.DefaultTransport
	}
	log := zerolog.Nop()
	if dt.log != nil {
		log = *dt.log
	}

	if reqDump, err := httputil.DumpRequestOut(req, true); err == nil {
		log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Str("request_dump", string(reqDump)).Msg("HTTP request")
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, err
	}

	if respDump, err := httputil.DumpResponse(resp, true); err == nil {
		log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Int("status_code", resp.StatusCode).Str("response_dump", string(respDump)).Msg("HTTP response")
	}
	return resp, nil
}

// debugLoggingRequested checks if HTTP debug logging should be enabled.
//
// Activation methods:
//   - IRISELLER_DEBUG=true (client-specific debug flag)
//   - DEBUG=true (general debug flag, common in development workflows)
func debugLoggingRequested() bool {
	return envTrue("IRISELLER_DEBUG") || envTrue("DEBUG")
}

// envTrue reports whether key holds a true boolean. Blank or malformed values read as false.
func envTrue(key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && b
}
