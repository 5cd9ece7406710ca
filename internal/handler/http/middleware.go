package http

import (
	"mime"
	"net/http"

	apperrors "github.com/tejasdc/starter-stack/pkg/errors"
	"github.com/tejasdc/starter-stack/pkg/httputil"
)

// ContentTypeJSON rejects request bodies that declare a media type other than
// application/json. Bodies without a Content-Type are decoded as JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if r.ContentLength != 0 && ct != "" {
			mt, _, err := mime.ParseMediaType(ct)
			if err != nil || mt != "application/json" {
				httputil.WriteError(w, r, apperrors.UnsupportedMediaType("Content-Type must be application/json"), nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
