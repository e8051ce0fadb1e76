package simpleimage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

func TestQualityScale_Native(t *testing.T) {
	scales := simpleimage.DefaultQualityScales()

	tests := []struct {
		format  string
		quality int
		want    int
	}{
		{"png", 100, 0},
		{"png", 0, 9},
		{"png", 90, 1},
		{"png", 50, 5},
		{"png", 150, 0},
		{"png", -5, 9},
		{"jpg", 90, 90},
		{"jpeg", 0, 0},
		{"jpeg", 100, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scales[tt.format].Native(tt.quality), "%s q=%d", tt.format, tt.quality)
	}
}

func TestQualityScale_Custom(t *testing.T) {
	webp := simpleimage.QualityScale{Max: 10}
	assert.Equal(t, 5, webp.Native(50))
	assert.Equal(t, 10, webp.Native(100))
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, "jpg", simpleimage.FormatOf("abc.JPG"))
	assert.Equal(t, "png", simpleimage.FormatOf("abc.tar.png"))
	assert.Equal(t, "", simpleimage.FormatOf("abc"))
}
