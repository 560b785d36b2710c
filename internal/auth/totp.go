package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/png"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const totpIssuer = "ClientPix"

// TOTPSetup holds the data returned when initiating 2FA setup.
type TOTPSetup struct {
	Secret     string `json:"secret"`
	OTPAuthURI string `json:"otpauth_uri"`
	QRDataURL  string `json:"qr_code"`
}

// GenerateTOTPSetup creates a new TOTP secret for an admin along with the
// otpauth URI and a QR code data URL for the authenticator app.
func GenerateTOTPSetup(email string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: email,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	dataURL, err := qrDataURL(key.URL())
	if err != nil {
		return nil, err
	}

	return &TOTPSetup{
		Secret:     key.Secret(),
		OTPAuthURI: key.URL(),
		QRDataURL:  dataURL,
	}, nil
}

// VerifyTOTPCode checks a 6-digit code against the secret. One time step
// of clock drift is tolerated in either direction.
func VerifyTOTPCode(secret, code string) bool {
	return totp.Validate(strings.TrimSpace(code), secret)
}

// GenerateBackupCodes creates single-use 2FA recovery codes. Returns the
// plaintext codes for one-time display and the encoded form for storage.
func GenerateBackupCodes(count int) ([]string, string, error) {
	plain := make([]string, count)
	hashed := make([]string, count)
	for i := 0; i < count; i++ {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			return nil, "", fmt.Errorf("generate backup code: %w", err)
		}
		code := strings.ToUpper(hex.EncodeToString(b))
		plain[i] = code

		h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("hash backup code: %w", err)
		}
		hashed[i] = string(h)
	}

	encoded, err := json.Marshal(hashed)
	if err != nil {
		return nil, "", fmt.Errorf("encode backup codes: %w", err)
	}
	return plain, string(encoded), nil
}

// VerifyBackupCode checks a recovery code against the stored encoding.
// Codes are single use: on a match the code is removed and the updated
// encoding is returned, nil when the last code was consumed.
func VerifyBackupCode(encoded *string, code string) (bool, *string, error) {
	if encoded == nil || *encoded == "" {
		return false, nil, nil
	}

	var hashed []string
	if err := json.Unmarshal([]byte(*encoded), &hashed); err != nil {
		return false, nil, fmt.Errorf("decode backup codes: %w", err)
	}

	normalized := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(code))
	for i, h := range hashed {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(normalized)) == nil {
			remaining := append(hashed[:i:i], hashed[i+1:]...)
			if len(remaining) == 0 {
				return true, nil, nil
			}
			out, err := json.Marshal(remaining)
			if err != nil {
				return false, nil, fmt.Errorf("encode backup codes: %w", err)
			}
			s := string(out)
			return true, &s, nil
		}
	}
	return false, nil, nil
}

// qrDataURL renders an otpauth URI as a PNG QR code data URL.
func qrDataURL(uri string) (string, error) {
	code, err := qr.Encode(uri, qr.M, qr.Auto)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	code, err = barcode.Scale(code, 256, 256)
	if err != nil {
		return "", fmt.Errorf("scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", fmt.Errorf("encode qr png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
