package usecase

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/runlater/core/internal/repository"
)

// decodeCursor/encodeCursor mirror the postgres package's cursor codec
// but live here too so the usecase layer never needs to import
// infrastructure/postgres just to paginate.
func decodeCursor(s string) (*repository.Cursor, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var c repository.Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c, nil
}

func encodeCursor(c *repository.Cursor) string {
	if c == nil {
		return ""
	}
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}
