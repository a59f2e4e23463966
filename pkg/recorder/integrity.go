package recorder

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ErrIntegrity is returned when a sealed record fails HMAC verification.
var ErrIntegrity = errors.New("record integrity check failed")

// CalculateHMAC generates an HMAC for the given data
func CalculateHMAC(data []byte, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC checks if the HMAC for the given data matches the expected value
func VerifyHMAC(data []byte, key []byte, expectedHMAC string) bool {
	return hmac.Equal([]byte(CalculateHMAC(data, key)), []byte(expectedHMAC))
}

// sealedRecord is the on-disk line for a record written with an integrity
// key.
type sealedRecord struct {
	Record json.RawMessage `json:"record"`
	HMAC   string          `json:"hmac"`
}

func sealRecord(r Record, key []byte) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return body, nil
	}
	return json.Marshal(sealedRecord{Record: body, HMAC: CalculateHMAC(body, key)})
}

// openRecord parses one line. With a key every line must be sealed and
// verify; without one sealed lines are accepted unverified.
func openRecord(line []byte, key []byte) (Record, error) {
	var sealed sealedRecord
	var rec Record
	if err := json.Unmarshal(line, &sealed); err == nil && sealed.Record != nil {
		if len(key) > 0 && !VerifyHMAC(sealed.Record, key, sealed.HMAC) {
			return rec, ErrIntegrity
		}
		err := json.Unmarshal(sealed.Record, &rec)
		return rec, err
	}
	if len(key) > 0 {
		return rec, errors.Wrap(ErrIntegrity, "record is not sealed")
	}
	err := json.Unmarshal(line, &rec)
	return rec, err
}
