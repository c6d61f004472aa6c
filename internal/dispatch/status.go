package dispatch

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/mockapi/internal/apierror"
)

// StatusFor maps a failure to the HTTP status reported to the caller.
func StatusFor(err error) int {
	switch apierror.KindOf(err) {
	case apierror.KindUnauthorized:
		return http.StatusUnauthorized
	case apierror.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
