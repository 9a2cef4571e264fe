package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The processor signs each webhook delivery with
//
//	Stripe-Signature: t=<unix>,v1=<hex hmac-sha256>
//
// where the MAC is computed over "<t>.<raw body>" with the endpoint's webhook
// secret. Verification must run against the wire bytes; any re-encoding of the
// body before this point is a correctness bug.

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrStaleTimestamp   = errors.New("signature timestamp outside tolerance")
)

// VerifySignature checks header against payload. now is injected for tests.
func VerifySignature(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	var (
		timestamp int64
		sigs      [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("parse signature timestamp: %w", err)
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				return fmt.Errorf("decode signature: %w", err)
			}
			sigs = append(sigs, sig)
		}
	}

	if timestamp == 0 || len(sigs) == 0 {
		return errors.New("signature header missing t or v1 element")
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > tolerance || age < -tolerance {
		return ErrStaleTimestamp
	}

	expected := ComputeSignature(secret, payload, timestamp)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return errors.New("no matching v1 signature")
}

// ComputeSignature produces the MAC the processor would send for payload at
// the given timestamp. Exported so tests and local tooling can sign fixtures.
func ComputeSignature(secret string, payload []byte, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeader renders a complete header value for payload, in the format
// VerifySignature expects.
func SignatureHeader(secret string, payload []byte, timestamp int64) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(ComputeSignature(secret, payload, timestamp)))
}
