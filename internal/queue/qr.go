package queue

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

	"github.com/skip2/go-qrcode"

	"ms-ordering/internal/models"
)

// TicketPayload is what the pickup counter reads back from a QR code.
type TicketPayload struct {
	StoreID      string `json:"store_id"`
	OrderID      string `json:"order_id"`
	Number       string `json:"number"`
	BusinessDate string `json:"business_date"`
}

// TicketQR renders encrypted pickup codes.
type TicketQR struct {
	secret []byte
}

func NewTicketQR(secret string) *TicketQR {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &TicketQR{secret: hashed[:]}
}

// PNG returns a 256px QR image of the encrypted ticket payload.
func (q *TicketQR) PNG(ticket models.QueueTicket) ([]byte, error) {
	token, err := q.Token(ticket)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, 256)
}

// Token is the string embedded in the QR code.
func (q *TicketQR) Token(ticket models.QueueTicket) (string, error) {
	data, err := json.Marshal(TicketPayload{
		StoreID:      ticket.StoreID,
		OrderID:      ticket.OrderID,
		Number:       ticket.Number,
		BusinessDate: ticket.BusinessDate,
	})
	if err != nil {
		return "", err
	}

	gcm, err := q.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Token.
func (q *TicketQR) Open(token string) (*TicketPayload, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode ticket token: %w", err)
	}
	gcm, err := q.aead()
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("ticket token too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	data, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt ticket token: %w", err)
	}

	var payload TicketPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (q *TicketQR) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
