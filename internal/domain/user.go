// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen = 64
	MaxTeamIDLen = 64
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrTeamIDEmpty   = errors.New("team id empty")
	ErrTeamIDTooLong = errors.New("team id too long")
)

type (
	UserID string
	TeamID string
)

// ParseUserID trims and validates an id coming from an adapter.
func ParseUserID(raw string) (UserID, error) {
	s := strings.TrimSpace(raw)
	if len(s) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(s) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(s), nil
}

func ParseTeamID(raw string) (TeamID, error) {
	s := strings.TrimSpace(raw)
	if len(s) == 0 {
		return "", ErrTeamIDEmpty
	}
	if len(s) > MaxTeamIDLen {
		return "", ErrTeamIDTooLong
	}
	return TeamID(s), nil
}
