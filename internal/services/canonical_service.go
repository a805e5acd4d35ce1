package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// CanonicalService produces the deterministic byte representation of a
// record's logical fields. Signing and verification must go through the
// same instance-free functions: any divergence between the two sides is a
// correctness bug, so there is exactly one serializer in the codebase.
//
// Rules: object keys sorted, strings quoted, numbers rendered as
// fixed-precision strings (no exponent form), timestamps as RFC3339Nano UTC.
type CanonicalService struct{}

// NewCanonicalService creates a new CanonicalService instance.
func NewCanonicalService() *CanonicalService {
	return &CanonicalService{}
}

// CanonicalBytes serializes the hash-covered logical fields of a record.
// The previous hash is mixed in separately by ComputeDigest.
func (cs *CanonicalService) CanonicalBytes(activityType string, data map[string]interface{}, timestamp time.Time, actorID string) []byte {
	var buf bytes.Buffer
	buf.WriteString("type=")
	buf.WriteString(strconv.Quote(activityType))
	buf.WriteString("|actor=")
	buf.WriteString(strconv.Quote(actorID))
	buf.WriteString("|ts=")
	buf.WriteString(strconv.Quote(timestamp.UTC().Format(time.RFC3339Nano)))
	buf.WriteString("|data=")
	cs.writeValue(&buf, data)
	return buf.Bytes()
}

// ComputeDigest returns SHA256(canonical ‖ previousHash) as raw bytes.
// previousHash is the hex digest of the preceding record (or the zero
// sentinel for genesis).
func (cs *CanonicalService) ComputeDigest(canonical []byte, previousHash string) ([]byte, error) {
	prev, err := hex.DecodeString(previousHash)
	if err != nil {
		return nil, fmt.Errorf("invalid previous hash %q: %w", previousHash, err)
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write(prev)
	return h.Sum(nil), nil
}

// ComputeHash is ComputeDigest with the digest hex-encoded for storage.
func (cs *CanonicalService) ComputeHash(canonical []byte, previousHash string) (string, error) {
	digest, err := cs.ComputeDigest(canonical, previousHash)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest), nil
}

// writeValue renders one payload value. Map iteration order and float
// formatting must not leak into the output, so keys are sorted and every
// numeric form collapses to the same fixed-notation string.
func (cs *CanonicalService) writeValue(buf *bytes.Buffer, v interface{}) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case string:
		buf.WriteString(strconv.Quote(val))
	case json.Number:
		cs.writeNumber(buf, val.String())
	case float64:
		buf.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	case float32:
		buf.WriteString(strconv.FormatFloat(float64(val), 'f', -1, 64))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(k))
			buf.WriteByte(':')
			cs.writeValue(buf, val[k])
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			cs.writeValue(buf, item)
		}
		buf.WriteByte(']')
	default:
		// Unknown payload types go through their JSON form so the output
		// stays total; payloads arrive JSON-decoded so this branch is rare.
		raw, err := json.Marshal(val)
		if err != nil {
			buf.WriteString(strconv.Quote(fmt.Sprintf("%v", val)))
			return
		}
		buf.Write(raw)
	}
}

// writeNumber normalizes a json.Number literal: integers stay as-is,
// anything else is reparsed and rendered in fixed notation so "1e2" and
// "100.0" and "100" hash identically.
func (cs *CanonicalService) writeNumber(buf *bytes.Buffer, literal string) {
	if i, err := strconv.ParseInt(literal, 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return
	}
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		buf.WriteString(strconv.Quote(literal))
		return
	}
	buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
}
