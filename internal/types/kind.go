package types

import "fmt"

// Kind is one of the three quantities an iServer probe reports.
type Kind int

const (
	Temperature Kind = iota
	Humidity
	Dewpoint
)

// Kinds lists every Kind in column order.
var Kinds = []Kind{Temperature, Humidity, Dewpoint}

func (k Kind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Dewpoint:
		return "dewpoint"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Unit is the display unit of k.
func (k Kind) Unit() string {
	if k == Humidity {
		return "%rh"
	}
	return "°C"
}

func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}
