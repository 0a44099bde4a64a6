// Package certificate implements the Finality Certificate (§4.14): a
// three-part compact Ed25519-signed envelope over a finality decision,
// mirroring a JWS compact serialization. No pack library specializes in
// Ed25519 signing beyond stdlib crypto/ed25519 — justified stdlib use,
// recorded in DESIGN.md.
package certificate

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMalformed is returned by Verify when the envelope isn't exactly
// three base64url segments.
var ErrMalformed = errors.New("certificate: malformed envelope")

// ErrInvalidSignature is returned by Verify when the Ed25519 signature
// does not match the header/payload segments.
var ErrInvalidSignature = errors.New("certificate: invalid signature")

// Payload is the decoded body of a certificate envelope
// (buildCertificatePayload, §4.14).
type Payload struct {
	CertificateID       string             `json:"certificate_id"`
	ScopeID             string             `json:"scope_id"`
	Decision            string             `json:"decision"`
	GoalScore           float64            `json:"goal_score"`
	DimensionsSnapshot  map[string]float64 `json:"dimensions_snapshot,omitempty"`
	PolicyVersionHashes map[string]string  `json:"policy_version_hashes,omitempty"`
	IssuedAt            time.Time          `json:"issued_at"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// BuildCertificatePayload constructs the payload a certificate will sign
// over (§4.14's buildCertificatePayload).
func BuildCertificatePayload(scopeID, decision string, goalScore float64, dimensionsSnapshot map[string]float64, policyVersionHashes map[string]string) Payload {
	return Payload{
		CertificateID:       uuid.NewString(),
		ScopeID:             scopeID,
		Decision:            decision,
		GoalScore:           goalScore,
		DimensionsSnapshot:  dimensionsSnapshot,
		PolicyVersionHashes: policyVersionHashes,
		IssuedAt:            time.Now(),
	}
}

// Signer signs and verifies certificate envelopes with one Ed25519 key
// pair. If no private key is configured, New generates an ephemeral one
// at process start — in-process verification still works, but no other
// process can validate the signature (§4.14).
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner wraps privateKey, or generates an ephemeral key pair if
// privateKey is empty.
func NewSigner(privateKey ed25519.PrivateKey) (*Signer, error) {
	if len(privateKey) == 0 {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral certificate signing key: %w", err)
		}
		return &Signer{priv: priv, pub: pub}, nil
	}
	pub, ok := privateKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("derive public key from configured private key")
	}
	return &Signer{priv: privateKey, pub: pub}, nil
}

// Sign produces the three-part compact envelope
// base64url(header).base64url(payload).base64url(signature) (§4.14).
func (s *Signer) Sign(payload Payload) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal certificate payload: %w", err)
	}
	headerJSON, err := json.Marshal(header{Alg: "EdDSA", Typ: "JWS"})
	if err != nil {
		return "", fmt.Errorf("marshal certificate header: %w", err)
	}

	h := base64.RawURLEncoding.EncodeToString(headerJSON)
	p := base64.RawURLEncoding.EncodeToString(payloadJSON)
	signingInput := h + "." + p
	sig := ed25519.Sign(s.priv, []byte(signingInput))
	sigEnc := base64.RawURLEncoding.EncodeToString(sig)

	return signingInput + "." + sigEnc, nil
}

// Verify validates the three-part structure and Ed25519 signature of
// envelope and returns the decoded payload.
func (s *Signer) Verify(envelope string) (Payload, error) {
	parts := strings.Split(envelope, ".")
	if len(parts) != 3 {
		return Payload{}, ErrMalformed
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Payload{}, fmt.Errorf("%w: decode signature: %v", ErrMalformed, err)
	}
	signingInput := parts[0] + "." + parts[1]
	if !ed25519.Verify(s.pub, []byte(signingInput), sig) {
		return Payload{}, ErrInvalidSignature
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Payload{}, fmt.Errorf("%w: decode payload: %v", ErrMalformed, err)
	}
	var payload Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return Payload{}, fmt.Errorf("%w: unmarshal payload: %v", ErrMalformed, err)
	}
	return payload, nil
}

// Store persists signed certificate envelopes.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Persist stores envelope alongside its decoded payload
// (§4.14's persistCertificate). certificate_id and issued_at live inside
// the JSONB payload column rather than as their own columns.
func (s *Store) Persist(ctx context.Context, payload Payload, envelope string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO finality_certificates (scope_id, envelope, payload) VALUES ($1, $2, $3)`,
		payload.ScopeID, envelope, payload)
	if err != nil {
		return fmt.Errorf("persist certificate %s: %w", payload.CertificateID, err)
	}
	return nil
}

// Record is a stored certificate as returned by GetLatest.
type Record struct {
	Payload  Payload
	Envelope string
}

// GetLatest returns the newest certificate for scopeID
// (§4.14's getLatestCertificate).
func (s *Store) GetLatest(ctx context.Context, scopeID string) (*Record, error) {
	var envelope string
	var payload Payload
	err := s.pool.QueryRow(ctx,
		`SELECT envelope, payload FROM finality_certificates
		 WHERE scope_id = $1 ORDER BY created_at DESC LIMIT 1`,
		scopeID,
	).Scan(&envelope, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest certificate for scope %s: %w", scopeID, err)
	}
	return &Record{Payload: payload, Envelope: envelope}, nil
}

// Issuer combines payload construction, signing, and persistence into
// the single call pkg/finality's certificateIssuer interface depends on.
type Issuer struct {
	signer *Signer
	store  *Store
}

// NewIssuer creates an Issuer.
func NewIssuer(signer *Signer, store *Store) *Issuer {
	return &Issuer{signer: signer, store: store}
}

// IssueAndPersist builds a certificate payload for scopeID/decision,
// signs it, persists the envelope, and returns the certificate ID and
// envelope.
func (i *Issuer) IssueAndPersist(ctx context.Context, scopeID, decision string, goalScore float64, dimensionsSnapshot map[string]float64) (string, string, error) {
	payload := BuildCertificatePayload(scopeID, decision, goalScore, dimensionsSnapshot, nil)
	envelope, err := i.signer.Sign(payload)
	if err != nil {
		return "", "", fmt.Errorf("sign certificate for scope %s: %w", scopeID, err)
	}
	if err := i.store.Persist(ctx, payload, envelope); err != nil {
		return "", "", err
	}
	return payload.CertificateID, envelope, nil
}
