package venue

import (
	"fmt"
	"strings"
)

// SupportedKinds - список поддерживаемых площадок
var SupportedKinds = []string{
	"bridge",
	"paper",
}

// New создаёт площадку по типу из конфигурации
func New(cfg Config) (Venue, error) {
	switch strings.ToLower(cfg.Kind) {
	case "bridge":
		return NewBridgeVenue(cfg)
	case "paper", "":
		return NewPaperVenue(), nil
	default:
		return nil, fmt.Errorf("unsupported venue: %s", cfg.Kind)
	}
}

// IsSupported проверяет, поддерживается ли тип площадки
func IsSupported(kind string) bool {
	kind = strings.ToLower(kind)
	for _, supported := range SupportedKinds {
		if kind == supported {
			return true
		}
	}
	return false
}
