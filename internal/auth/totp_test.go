package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestGenerateTOTPSetup(t *testing.T) {
	setup, err := GenerateTOTPSetup("owner@example.com")
	if err != nil {
		t.Fatalf("GenerateTOTPSetup: %v", err)
	}
	if setup.Secret == "" {
		t.Error("empty secret")
	}
	if !strings.HasPrefix(setup.OTPAuthURI, "otpauth://totp/") {
		t.Errorf("OTPAuthURI = %q", setup.OTPAuthURI)
	}
	if !strings.Contains(setup.OTPAuthURI, "owner%40example.com") &&
		!strings.Contains(setup.OTPAuthURI, "owner@example.com") {
		t.Errorf("account missing from URI: %q", setup.OTPAuthURI)
	}
	if !strings.HasPrefix(setup.QRDataURL, "data:image/png;base64,") {
		t.Errorf("QRDataURL is not a PNG data URL: %.40q", setup.QRDataURL)
	}
}

func TestVerifyTOTPCode(t *testing.T) {
	setup, err := GenerateTOTPSetup("owner@example.com")
	if err != nil {
		t.Fatalf("GenerateTOTPSetup: %v", err)
	}

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if !VerifyTOTPCode(setup.Secret, code) {
		t.Error("current code rejected")
	}
	// Whitespace from copy-paste is tolerated.
	if !VerifyTOTPCode(setup.Secret, " "+code+" ") {
		t.Error("code with surrounding whitespace rejected")
	}
	if VerifyTOTPCode(setup.Secret, "000000") && code != "000000" {
		t.Error("wrong code accepted")
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	plain, encoded, err := GenerateBackupCodes(10)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	if len(plain) != 10 {
		t.Fatalf("got %d codes, want 10", len(plain))
	}
	for _, c := range plain {
		if len(c) != 8 || c != strings.ToUpper(c) {
			t.Errorf("code %q is not 8 uppercase hex chars", c)
		}
	}
	// Plaintext codes must not appear in the stored encoding.
	for _, c := range plain {
		if strings.Contains(encoded, c) {
			t.Errorf("plaintext code %q leaked into stored encoding", c)
		}
	}
}

func TestVerifyBackupCodeSingleUse(t *testing.T) {
	plain, encoded, err := GenerateBackupCodes(3)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}

	ok, remaining, err := VerifyBackupCode(&encoded, plain[1])
	if err != nil {
		t.Fatalf("VerifyBackupCode: %v", err)
	}
	if !ok {
		t.Fatal("valid code rejected")
	}
	if remaining == nil {
		t.Fatal("remaining codes dropped after one use")
	}

	// The consumed code no longer verifies.
	ok, _, err = VerifyBackupCode(remaining, plain[1])
	if err != nil {
		t.Fatalf("VerifyBackupCode reuse: %v", err)
	}
	if ok {
		t.Error("consumed code accepted again")
	}

	// The others still do.
	ok, _, err = VerifyBackupCode(remaining, plain[0])
	if err != nil || !ok {
		t.Errorf("sibling code rejected: ok=%v err=%v", ok, err)
	}
}

func TestVerifyBackupCodeNormalization(t *testing.T) {
	plain, encoded, err := GenerateBackupCodes(1)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}

	// Lowercase with separators, as a user might type it.
	typed := strings.ToLower(plain[0][:4] + "-" + plain[0][4:])
	ok, remaining, err := VerifyBackupCode(&encoded, typed)
	if err != nil {
		t.Fatalf("VerifyBackupCode: %v", err)
	}
	if !ok {
		t.Error("normalized code rejected")
	}
	// Last code consumed clears the set.
	if remaining != nil {
		t.Errorf("remaining = %q, want nil after last code", *remaining)
	}
}

func TestVerifyBackupCodeEmpty(t *testing.T) {
	ok, remaining, err := VerifyBackupCode(nil, "ABCD1234")
	if err != nil || ok || remaining != nil {
		t.Errorf("nil encoding: ok=%v remaining=%v err=%v", ok, remaining, err)
	}
	empty := ""
	ok, _, err = VerifyBackupCode(&empty, "ABCD1234")
	if err != nil || ok {
		t.Errorf("empty encoding: ok=%v err=%v", ok, err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("password stored in the clear")
	}
	if !VerifyPassword("correct horse battery staple", hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if a == b {
		t.Error("two tokens are identical")
	}
	// 32 bytes base64url without padding.
	if len(a) != 43 {
		t.Errorf("token length = %d, want 43", len(a))
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("token %q is not URL-safe", a)
	}
}
