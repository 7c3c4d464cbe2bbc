package service

import (
	"errors"
	"strings"

	"github.com/zlnvch/sketchroom/models"
)

const maxColorLength = 64

// NormalizeRoomId applies the fallback room for an empty id. Room ids are
// otherwise opaque and case-sensitive.
func (s *Service) NormalizeRoomId(roomId string) string {
	if roomId == "" {
		return s.Limits.DefaultRoomId
	}
	return roomId
}

func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// ValidateBrush checks the styling shared by completed strokes and point batches.
func ValidateBrush(color string, width float64, tool models.Tool, limits Limits) error {
	if !tool.Valid() {
		return errors.New("invalid tool")
	}
	if width <= 0 || (limits.MaxWidth > 0 && width > limits.MaxWidth) {
		return errors.New("invalid width")
	}
	if len(color) > maxColorLength {
		return errors.New("invalid color")
	}
	return nil
}

// ValidateStroke checks a completed stroke. Coordinates are not range checked.
func ValidateStroke(points []models.Point, color string, width float64, tool models.Tool, limits Limits) error {
	if err := ValidateBrush(color, width, tool, limits); err != nil {
		return err
	}
	if len(points) == 0 {
		return errors.New("empty stroke")
	}
	if limits.MaxStrokePoints > 0 && len(points) > limits.MaxStrokePoints {
		return errors.New("stroke too long")
	}
	return nil
}
