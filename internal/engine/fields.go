package engine

import (
	"html"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ParamType tells request parsing how to clean a submitted field.
type ParamType int

const (
	// ParamRaw keeps the value untouched.
	ParamRaw ParamType = iota
	// ParamText strips markup and surrounding whitespace. The result is plain
	// text, never entity encoded.
	ParamText
	// ParamInt accepts base-10 integers only.
	ParamInt
	// ParamNumber accepts decimal numbers only.
	ParamNumber
	// ParamBool normalises checkbox style values to "1". Unset values are
	// dropped, the same as an unticked checkbox.
	ParamBool
	// ParamCleanHTML keeps safe user generated markup.
	ParamCleanHTML
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	ugcPolicy    = bluemonday.UGCPolicy()
)

// CleanParam normalises one submitted value. The boolean is false when the
// value does not fit the type and must be ignored.
func CleanParam(value string, t ParamType) (string, bool) {
	switch t {
	case ParamRaw:
		return value, true
	case ParamText:
		return plainText(value), true
	case ParamInt:
		v := strings.TrimSpace(value)
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return "", false
		}
		return v, true
	case ParamNumber:
		v := strings.TrimSpace(strings.ReplaceAll(value, ",", "."))
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "", false
		}
		return v, true
	case ParamBool:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "on", "yes":
			return "1", true
		default:
			return "", false
		}
	case ParamCleanHTML:
		return strings.TrimSpace(ugcPolicy.Sanitize(value)), true
	default:
		return "", false
	}
}

// plainText removes tags from a typed response. Input without a closing
// angle bracket holds no complete tag and is kept as typed, so answers such
// as "a<b" survive.
func plainText(value string) string {
	if !strings.Contains(value, ">") {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(value)))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
