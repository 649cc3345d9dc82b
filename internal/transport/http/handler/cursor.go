package handler

import (
	"strconv"

	"github.com/runlater/core/internal/infrastructure/postgres"
	"github.com/runlater/core/internal/repository"
)

const (
	defaultQueryLimit = 20
	maxQueryLimit     = 100
)

func clampQueryLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultQueryLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

func decodeQueryCursor(raw string) (*repository.Cursor, error) {
	return postgres.DecodeCursor(raw)
}

func encodeQueryCursor(c *repository.Cursor) string {
	return postgres.EncodeCursor(c)
}
