package service_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zlnvch/sketchroom/models"
	"github.com/zlnvch/sketchroom/service"
)

var testLimits = service.Limits{
	DefaultRoomId:   "default",
	MaxStrokePoints: 10,
	MaxWidth:        50,
}

func points(n int) []models.Point {
	pts := make([]models.Point, n)
	for i := range pts {
		pts[i] = models.Point{X: float64(i) / 10, Y: 0.5}
	}
	return pts
}

func TestValidateStroke(t *testing.T) {
	tests := []struct {
		name    string
		points  []models.Point
		color   string
		width   float64
		tool    models.Tool
		wantErr string
	}{
		{"Valid Draw", points(3), "#ff0000", 4, models.ToolDraw, ""},
		{"Valid Erase", points(1), "#ffffff", 20, models.ToolErase, ""},
		{"Named Color", points(3), "red", 4, models.ToolDraw, ""},
		{"Max Points", points(10), "#000", 1, models.ToolDraw, ""},
		{"Max Width", points(2), "#000", 50, models.ToolDraw, ""},
		{"Unknown Tool", points(3), "#000", 4, models.Tool("spray"), "invalid tool"},
		{"Empty Tool", points(3), "#000", 4, models.Tool(""), "invalid tool"},
		{"Zero Width", points(3), "#000", 0, models.ToolDraw, "invalid width"},
		{"Negative Width", points(3), "#000", -1, models.ToolDraw, "invalid width"},
		{"Width Too Large", points(3), "#000", 50.5, models.ToolDraw, "invalid width"},
		{"No Points", nil, "#000", 4, models.ToolDraw, "empty stroke"},
		{"Too Many Points", points(11), "#000", 4, models.ToolDraw, "stroke too long"},
		{"Color Too Long", points(3), strings.Repeat("f", 65), 4, models.ToolDraw, "invalid color"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := service.ValidateStroke(tc.points, tc.color, tc.width, tc.tool, testLimits)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestValidateStroke_CoordinatesNotRangeChecked(t *testing.T) {
	outside := []models.Point{{X: -3, Y: 12.5}, {X: 1e9, Y: -1e9}}
	assert.NoError(t, service.ValidateStroke(outside, "#000", 2, models.ToolDraw, testLimits))
}

func TestValidateBrush(t *testing.T) {
	assert.NoError(t, service.ValidateBrush("#123456", 3, models.ToolDraw, testLimits))
	assert.Error(t, service.ValidateBrush("#123456", 3, models.Tool("laser"), testLimits))
	assert.Error(t, service.ValidateBrush("#123456", 0, models.ToolErase, testLimits))
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "alice", service.NormalizeUsername("  alice \t"))
	assert.Equal(t, "", service.NormalizeUsername("   "))
	assert.Equal(t, "Bob Smith", service.NormalizeUsername("Bob Smith"))
}

// FuzzValidateStroke checks that validation never panics and that every
// accepted stroke respects the limits.
func FuzzValidateStroke(f *testing.F) {
	f.Add(3, "#000000", 4.0, "draw")
	f.Add(0, "", 0.0, "")
	f.Add(11, "red", 51.0, "erase")
	f.Add(1, strings.Repeat("#", 100), -2.5, "pen")

	f.Fuzz(func(t *testing.T, n int, color string, width float64, tool string) {
		if n < 0 || n > 100 {
			return
		}
		err := service.ValidateStroke(points(n), color, width, models.Tool(tool), testLimits)
		if err != nil {
			return
		}
		if n == 0 || n > testLimits.MaxStrokePoints {
			t.Errorf("accepted stroke with %d points", n)
		}
		if !(width > 0 && width <= testLimits.MaxWidth) {
			t.Errorf("accepted width %v", width)
		}
		if !models.Tool(tool).Valid() {
			t.Errorf("accepted tool %q", tool)
		}
	})
}
