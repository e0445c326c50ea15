// Package qr encrypts ticket payloads and renders them as QR codes.
package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ms-ticketing-engine/internal/models"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidCode = errors.New("qr code is not a valid ticket code")

type Generator struct {
	aead cipher.AEAD
}

func NewGenerator(secret string) (*Generator, error) {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Generator{aead: aead}, nil
}

// Encrypt seals the payload into a URL-safe string.
func (g *Generator) Encrypt(payload models.QRPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a string produced by Encrypt. Tampered or foreign codes
// return ErrInvalidCode.
func (g *Generator) Decrypt(encrypted string) (*models.QRPayload, error) {
	raw, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, ErrInvalidCode
	}
	n := g.aead.NonceSize()
	if len(raw) < n {
		return nil, ErrInvalidCode
	}
	data, err := g.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, ErrInvalidCode
	}

	var payload models.QRPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if payload.TicketID == "" {
		return nil, ErrInvalidCode
	}
	return &payload, nil
}

// PNG renders the encrypted payload of a ticket as a 256px QR image.
func (g *Generator) PNG(ticket *models.PurchasedTicket) ([]byte, error) {
	encrypted, err := g.Encrypt(models.QRPayload{
		TicketID:     ticket.ID,
		EventID:      ticket.EventID,
		SerialNumber: ticket.SerialNumber,
	})
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}
