package auth

import (
	"testing"
	"time"
)

// Base32 encoding of the RFC 6238 reference secret "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestVerifyTOTPReferenceVector(t *testing.T) {
	// At t=59s the reference code is 287082.
	if !VerifyTOTP(rfcSecret, "287082", time.Unix(59, 0)) {
		t.Fatalf("expected reference code to verify")
	}
	if VerifyTOTP(rfcSecret, "000000", time.Unix(59, 0)) {
		t.Fatalf("expected wrong code to fail")
	}
}

func TestVerifyTOTPSkewWindow(t *testing.T) {
	// The code for t=59 stays valid one period later, but not two.
	if !VerifyTOTP(rfcSecret, "287082", time.Unix(89, 0)) {
		t.Fatalf("expected code to verify within skew window")
	}
	if VerifyTOTP(rfcSecret, "287082", time.Unix(149, 0)) {
		t.Fatalf("expected code to expire outside skew window")
	}
}

func TestVerifyTOTPRejectsMalformedInput(t *testing.T) {
	if VerifyTOTP(rfcSecret, "12345", time.Unix(59, 0)) {
		t.Fatalf("expected short code to fail")
	}
	if VerifyTOTP("not-base32!", "287082", time.Unix(59, 0)) {
		t.Fatalf("expected invalid secret to fail")
	}
}
