package reminder

import "github.com/franzego/salon-reminders/internal/models"

// Horizon is a look-ahead at which a reminder fires. Flag names the boolean
// field on the appointment document that records the reminder was handled.
type Horizon struct {
	Name  string
	Hours int
	Flag  string
	Label string
}

var (
	Horizon1h  = Horizon{Name: "1h", Hours: 1, Flag: "notified1h", Label: "en 1 hora"}
	Horizon24h = Horizon{Name: "24h", Hours: 24, Flag: "notified24h", Label: "mañana"}
	Horizon48h = Horizon{Name: "48h", Hours: 48, Flag: "notified48h", Label: "en 48 horas"}
)

// DefaultHorizons is the order a run walks the horizons in.
var DefaultHorizons = []Horizon{Horizon1h, Horizon24h, Horizon48h}

// Notified reports the in-memory flag value for h on a.
func (h Horizon) Notified(a models.Appointment) bool {
	switch h.Flag {
	case Horizon1h.Flag:
		return a.Notified1h
	case Horizon24h.Flag:
		return a.Notified24h
	case Horizon48h.Flag:
		return a.Notified48h
	}
	return false
}
