package reminder

import (
	"fmt"

	"github.com/franzego/salon-reminders/internal/models"
)

// RenderBody builds the reminder text sent for appointment a at horizon h.
func RenderBody(businessName string, a models.Appointment, h Horizon) string {
	return fmt.Sprintf("%s: Hola %s, recordatorio de turno para %s %s a las %shs.",
		businessName, a.ClientName, a.Treatment, h.Label, a.Time)
}

func reminderData(a models.Appointment, h Horizon) map[string]string {
	return map[string]string{
		"type":          models.ReminderDataType,
		"appointmentId": a.ID,
		"horizon":       h.Name,
	}
}
