package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// ReadRecords scans r line by line, decoding each non-blank line as a
// Record. Malformed lines are skipped rather than aborting the whole
// read, matching Compact's own "skip malformed lines" tolerance for a
// log that may have been truncated mid-write.
func ReadRecords(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	var records []Record
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}
	return records, nil
}

// DecodeField inspects a Record field's raw JSON and reports whether it
// is a {"$ref": hash, "size": n} reference or an inline string. Exactly
// one of (text, ref) is meaningful, selected by isRef.
func DecodeField(raw json.RawMessage) (text string, ref *Ref, isRef bool, err error) {
	if len(raw) == 0 {
		return "", nil, false, nil
	}
	var asRef Ref
	if err := json.Unmarshal(raw, &asRef); err == nil && asRef.Hash != "" {
		return "", &asRef, true, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return "", nil, false, fmt.Errorf("audit: decode field: %w", err)
	}
	return asString, nil, false, nil
}

// ResolveField returns a field's full text, following a {"$ref"} through
// restorer if necessary.
func ResolveField(raw json.RawMessage, restorer *Restorer) (string, error) {
	text, ref, isRef, err := DecodeField(raw)
	if err != nil {
		return "", err
	}
	if !isRef {
		return text, nil
	}
	return restorer.Resolve(*ref)
}
