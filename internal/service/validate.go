package service

import (
	"fmt"
	"math"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
)

// Guard inspects a create/update payload before anything is written.
type Guard func(data bson.M) error

var baseProtected = []string{"creator", "create_date", "last_edit", "edit_record", "etag"}

// CheckNoUID rejects payloads that carry a uid.
func CheckNoUID(data bson.M) error {
	if _, ok := data[FieldUID]; ok {
		return ErrUIDPresent
	}
	return nil
}

// CheckBaseMetadata rejects payloads that set a service-owned splash_md field.
func CheckBaseMetadata(data bson.M) error {
	return checkProtected(data, baseProtected)
}

// CheckVersionedMetadata additionally rejects a caller supplied version.
func CheckVersionedMetadata(data bson.M) error {
	return checkProtected(data, []string{"version"})
}

func checkProtected(data bson.M, fields []string) error {
	md, err := metadataOf(data)
	if err != nil || md == nil {
		return err
	}
	for _, f := range fields {
		if _, ok := md[f]; ok {
			return &ImmutableMetadataFieldError{Field: f}
		}
	}
	return nil
}

func runGuards(data bson.M, guards []Guard) error {
	for _, g := range guards {
		if err := g(data); err != nil {
			return err
		}
	}
	return nil
}

// metadataOf returns the caller's splash_md as a map, nil when absent.
func metadataOf(data bson.M) (map[string]interface{}, error) {
	raw, ok := data[FieldMetadata]
	if !ok || raw == nil {
		return nil, nil
	}
	switch md := raw.(type) {
	case bson.M:
		return md, nil
	case map[string]interface{}:
		return md, nil
	case bson.D:
		out := make(map[string]interface{}, len(md))
		for _, e := range md {
			out[e.Key] = e.Value
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: `splash_md` must be a document, got %T", ErrBadPayload, raw)
}

// ParseVersion converts a boundary value (path parameter, JSON number, flag)
// into a version number.
func ParseVersion(v interface{}) (int, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, ErrVersionNotInteger
		}
		n = int64(x)
	case string:
		p, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, ErrVersionNotInteger
		}
		n = p
	default:
		return 0, ErrVersionNotInteger
	}
	if n < 1 {
		return 0, ErrVersionNotPositive
	}
	if n > math.MaxInt32 {
		return 0, ErrVersionNotInteger
	}
	return int(n), nil
}
