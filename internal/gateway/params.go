// internal/gateway/params.go
package gateway

import (
	"net/url"
	"strconv"
	"strings"

	"tabgate/pkg/apperr"
	"tabgate/pkg/engine"
)

// parseBoolParam accepts only "true" or "false" (case-insensitive); missing
// means false. Anything else is a validation failure, never evaluated.
func parseBoolParam(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	switch strings.ToLower(v) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, apperr.New(apperr.ValidationError, "parameter %s must be true or false, got %q", name, v)
	}
}

func parseIntParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, apperr.New(apperr.ValidationError, "parameter %s must be a non-negative integer, got %q", name, v)
	}
	return i, nil
}

func parsePostFlags(q url.Values) (engine.PostFlags, error) {
	var flags engine.PostFlags
	var err error
	if flags.Insert, err = parseBoolParam(q, "insert"); err != nil {
		return flags, err
	}
	if flags.Update, err = parseBoolParam(q, "update"); err != nil {
		return flags, err
	}
	if flags.Delete, err = parseBoolParam(q, "delete"); err != nil {
		return flags, err
	}
	if flags.Execute, err = parseBoolParam(q, "execute"); err != nil {
		return flags, err
	}
	if flags.Commit, err = parseBoolParam(q, "commit"); err != nil {
		return flags, err
	}
	return flags, nil
}
