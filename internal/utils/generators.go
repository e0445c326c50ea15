package utils

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"math/big"
	"time"
)

// GenerateTransactionCode returns a payment correlation code TXN_<unix>_<9 digits>.
func GenerateTransactionCode(now time.Time) string {
	randomNum, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		return fmt.Sprintf("TXN_%d_%09d", now.Unix(), now.Nanosecond()%1_000_000_000)
	}
	return fmt.Sprintf("TXN_%d_%09d", now.Unix(), randomNum.Int64())
}

// GenerateSerial returns a ticket serial TK<yyMMdd><10 base32 chars>. Global
// uniqueness is enforced by the database; callers retry on conflict.
func GenerateSerial(now time.Time) (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	suffix := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)[:10]
	return "TK" + now.Format("060102") + suffix, nil
}
