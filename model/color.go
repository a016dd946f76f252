package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RGB — цвет ника; в JSON кодируется как [r,g,b].
type RGB struct {
	R, G, B uint8
}

func (c RGB) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{int(c.R), int(c.G), int(c.B)})
}

func (c *RGB) UnmarshalJSON(data []byte) error {
	var triple [3]uint8
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("rgb: %w", err)
	}
	c.R, c.G, c.B = triple[0], triple[1], triple[2]
	return nil
}

// Hex возвращает цвет в виде #RRGGBB.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ParseHexColor разбирает цвет вида #RRGGBB, как его присылает Twitch.
func ParseHexColor(s string) (RGB, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGB{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, false
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, true
}

// ColorFor детерминированно выводит цвет из имени пользователя: хеш задаёт оттенок,
// насыщенность и светлость фиксированы (0.75 и 0.65).
func ColorFor(username string) RGB {
	var hash uint32
	for _, r := range username {
		hash = hash*31 + uint32(r)
	}

	hue := float64(hash % 360)
	const (
		saturation = 0.75
		lightness  = 0.65
	)

	c := (1 - math.Abs(2*lightness-1)) * saturation
	x := c * (1 - math.Abs(math.Mod(hue/60, 2)-1))
	m := lightness - c/2

	var r, g, b float64
	switch int(hue / 60) {
	case 0:
		r, g, b = c, x, 0
	case 1:
		r, g, b = x, c, 0
	case 2:
		r, g, b = 0, c, x
	case 3:
		r, g, b = 0, x, c
	case 4:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return RGB{
		R: uint8((r + m) * 255),
		G: uint8((g + m) * 255),
		B: uint8((b + m) * 255),
	}
}
