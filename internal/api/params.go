package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/clipshelf/internal/apperr"
	"github.com/starford/clipshelf/internal/clipservice"
	"github.com/starford/clipshelf/internal/store"
)

// parseCriteria reads filter fields from query or form values:
// from, to (YYYY-MM-DD), tag and server (repeatable or comma separated), threshold.
func parseCriteria(v url.Values) (store.Criteria, error) {
	var c store.Criteria
	for _, f := range []struct {
		key string
		dst **time.Time
	}{{"from", &c.DateFrom}, {"to", &c.DateTo}} {
		raw := strings.TrimSpace(v.Get(f.key))
		if raw == "" {
			continue
		}
		d, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
		if err != nil {
			return c, fmt.Errorf("%w: %s must be YYYY-MM-DD", apperr.ErrInvalidFilter, f.key)
		}
		*f.dst = &d
	}

	c.TagNames = clipservice.NormalizeTags(splitList(v["tag"]))

	for _, raw := range splitList(v["server"]) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return c, fmt.Errorf("%w: bad server id %q", apperr.ErrInvalidFilter, raw)
		}
		c.ServerIDs = append(c.ServerIDs, id)
	}

	if raw := strings.TrimSpace(v.Get("threshold")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c, fmt.Errorf("%w: threshold must be an integer", apperr.ErrInvalidFilter)
		}
		c.DistanceThreshold = &n
	}
	return c, c.Validate()
}

// wantGroups reports whether the caller asked for day groups.
func wantGroups(v url.Values) (bool, error) {
	switch v.Get("group") {
	case "":
		return false, nil
	case "day":
		return true, nil
	default:
		return false, fmt.Errorf("%w: group must be \"day\"", apperr.ErrInvalidFilter)
	}
}

// splitList flattens repeated and comma separated values, dropping blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
