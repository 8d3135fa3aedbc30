package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
)

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 0 {
		return 0, ErrInvalidRequest
	}
	return parsed, nil
}

func parseRecordID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		return 0, duesdomain.ErrInvalidID
	}
	return parsed, nil
}
