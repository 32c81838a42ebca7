package apple_notification

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt"
)

const appleRootCAG3RootPem = `-----BEGIN CERTIFICATE-----
MIICQzCCAcmgAwIBAgIILcX8iNLFS5UwCgYIKoZIzj0EAwMwZzEbMBkGA1UEAwwS
QXBwbGUgUm9vdCBDQSAtIEczMSYwJAYDVQQLDB1BcHBsZSBDZXJ0aWZpY2F0aW9u
IEF1dGhvcml0eTETMBEGA1UECgwKQXBwbGUgSW5jLjELMAkGA1UEBhMCVVMwHhcN
MTQwNDMwMTgxOTA2WhcNMzkwNDMwMTgxOTA2WjBnMRswGQYDVQQDDBJBcHBsZSBS
b290IENBIC0gRzMxJjAkBgNVBAsMHUFwcGxlIENlcnRpZmljYXRpb24gQXV0aG9y
aXR5MRMwEQYDVQQKDApBcHBsZSBJbmMuMQswCQYDVQQGEwJVUzB2MBAGByqGSM49
AgEGBSuBBAAiA2IABJjpLz1AcqTtkyJygRMc3RCV8cWjTnHcFBbZDuWmBSp3ZHtf
TjjTuxxEtX/1H7YyYl3J6YRbTzBPEVoA/VhYDKX1DyxNB0cTddqXl5dvMVztK517
IDvYuVTZXpmkOlEKMaNCMEAwHQYDVR0OBBYEFLuw3qFYM4iapIqZ3r6966/ayySr
MA8GA1UdEwEB/wQFMAMBAf8wDgYDVR0PAQH/BAQDAgEGMAoGCCqGSM49BAMDA2gA
MGUCMQCD6cHEFl4aXTQY2e3v9GwOAEZLuN+yRhHFD/3meoyhpmvOwgPUnPWTxnS4
at+qIxUCMG1mihDK1A3UT82NQz60imOlM27jbdoXt2QfyFMm+YhidDkLF1vLUagM
6BgD56KyKA==
-----END CERTIFICATE-----`

var (
	// ErrMalformedToken means the input is not a decodable three-segment token.
	ErrMalformedToken = errors.New("malformed signed token")
	// ErrMissingField means a decoded payload lacks a required field.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidSignature means the x5c chain or the token signature did not verify.
	ErrInvalidSignature = errors.New("invalid token signature")
)

type DecoderOptions struct {
	// VerifySignatures turns on x5c chain and ES256 signature checks.
	VerifySignatures bool
	// RootCertPEM replaces the embedded Apple Root CA G3 as trust anchor.
	RootCertPEM string
}

// Decoder turns App Store signed tokens (JWS) into typed payloads.
type Decoder struct {
	verify bool
	roots  *x509.CertPool
}

func NewDecoder(opts DecoderOptions) (*Decoder, error) {
	d := &Decoder{verify: opts.VerifySignatures}
	if !d.verify {
		return d, nil
	}
	pem := opts.RootCertPEM
	if pem == "" {
		pem = appleRootCAG3RootPem
	}
	d.roots = x509.NewCertPool()
	if ok := d.roots.AppendCertsFromPEM([]byte(pem)); !ok {
		return nil, errors.New("root certificate couldn't be parsed")
	}
	return d, nil
}

// Verifies reports whether tokens are cryptographically checked.
func (d *Decoder) Verifies() bool {
	return d != nil && d.verify
}

// IsSignedToken reports whether s has the three dot-separated segments of a JWS.
func IsSignedToken(s string) bool {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts[:2] {
		if p == "" {
			return false
		}
	}
	return true
}

// Decode fills claims from token, verifying the chain and signature when enabled.
func (d *Decoder) Decode(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if !IsSignedToken(token) {
		return ErrMalformedToken
	}
	if !d.Verifies() {
		if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		return nil
	}

	_, err := jwt.ParseWithClaims(token, claims, d.keyFunc)
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorMalformed != 0 {
			return fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// keyFunc verifies the x5c chain against the trusted roots and returns the leaf key.
func (d *Decoder) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok || token.Method.Alg() != jwt.SigningMethodES256.Alg() {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	certs, err := x5cCertificates(token.Header["x5c"])
	if err != nil {
		return nil, err
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	opts := x509.VerifyOptions{
		Roots:         d.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return nil, fmt.Errorf("verify certificate chain: %w", err)
	}

	pk, ok := certs[0].PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("appstore public key must be of type ecdsa.PublicKey")
	}
	return pk, nil
}

func x5cCertificates(header interface{}) ([]*x509.Certificate, error) {
	raw, ok := header.([]interface{})
	if !ok || len(raw) < 2 {
		return nil, errors.New("x5c header must carry at least leaf and intermediate certificates")
	}
	certs := make([]*x509.Certificate, 0, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("x5c[%d] is not a string", i)
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode x5c[%d]: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse x5c[%d]: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// DecodeTransaction decodes a signedTransactionInfo token.
func (d *Decoder) DecodeTransaction(token string) (*TransactionInfo, error) {
	info := &TransactionInfo{}
	if err := d.Decode(token, info); err != nil {
		return nil, err
	}
	if info.TransactionID == "" {
		return nil, fmt.Errorf("%w: transactionId", ErrMissingField)
	}
	return info, nil
}

// DecodeNotification decodes the outer signedPayload and its inner tokens.
func (d *Decoder) DecodeNotification(signedPayload string) (*Notification, error) {
	payload := &NotificationPayload{}
	if err := d.Decode(signedPayload, payload); err != nil {
		return nil, err
	}
	n, err := d.DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	n.Verified = d.Verifies()
	return n, nil
}

// DecodePayload decodes the signed inner fields of an already unwrapped notification.
// A TEST notification carries no transaction.
func (d *Decoder) DecodePayload(payload *NotificationPayload) (*Notification, error) {
	if payload == nil || payload.NotificationType == "" {
		return nil, fmt.Errorf("%w: notificationType", ErrMissingField)
	}
	n := &Notification{Payload: payload}
	if n.IsTest() {
		return n, nil
	}

	if payload.Data.SignedTransactionInfo == "" {
		return nil, fmt.Errorf("%w: data.signedTransactionInfo", ErrMissingField)
	}
	info, err := d.DecodeTransaction(payload.Data.SignedTransactionInfo)
	if err != nil {
		return nil, fmt.Errorf("signedTransactionInfo: %w", err)
	}
	if info.OriginalTransactionID == "" {
		return nil, fmt.Errorf("%w: originalTransactionId", ErrMissingField)
	}
	n.TransactionInfo = info

	if payload.Data.SignedRenewalInfo != "" {
		renewal := &RenewalInfo{}
		if err := d.Decode(payload.Data.SignedRenewalInfo, renewal); err != nil {
			return nil, fmt.Errorf("signedRenewalInfo: %w", err)
		}
		n.RenewalInfo = renewal
	}
	return n, nil
}
