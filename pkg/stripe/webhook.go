package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultTolerance bounds how old a webhook timestamp may be before the
// signature is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// Event is the decoded webhook envelope. Data.Object stays raw so callers
// decode it into the type matching the event.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ErrInvalidSignature is returned for any signature verification failure.
// The cause is deliberately not distinguished to the caller.
var ErrInvalidSignature = eris.New("stripe: webhook signature verification failed")

// ConstructEvent verifies the Stripe-Signature header against the raw,
// unparsed request body and only then decodes the event. Verification must
// happen before any JSON parsing of the payload.
func ConstructEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	return constructEventAt(payload, sigHeader, secret, DefaultTolerance, time.Now())
}

func constructEventAt(payload []byte, sigHeader, secret string, tolerance time.Duration, now time.Time) (*Event, error) {
	if err := verifySignature(payload, sigHeader, secret, tolerance, now); err != nil {
		return nil, err
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, eris.Wrap(err, "stripe: decode webhook event")
	}
	return &event, nil
}

// verifySignature checks the t=<timestamp>,v1=<hmac> header scheme: the
// signed payload is "<timestamp>.<raw body>" under HMAC-SHA256 of the
// endpoint secret.
func verifySignature(payload []byte, sigHeader, secret string, tolerance time.Duration, now time.Time) error {
	var timestamp int64
	var signatures []string

	for _, part := range strings.Split(sigHeader, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return ErrInvalidSignature
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return nil
		}
	}
	return ErrInvalidSignature
}
